package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/goliatone/go-logger/glog"
	pipeline "github.com/goliatone/go-pipeline"
	"github.com/spf13/cobra"
)

type baseLoggerProvider struct {
	root *glog.BaseLogger
}

func (p baseLoggerProvider) GetLogger(name string) glog.Logger {
	return p.root.GetLogger(name)
}

// options holds the flags shared by every task command.
type options struct {
	dir      string
	config   string
	deploy   bool
	logLevel string
	report   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:          "gopipe [task...]",
		Short:        "Build, serve and deploy the web client",
		Long:         "Runs the named build tasks and their dependencies. Without a task it builds, serves and watches the project.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}
	o.addFlags(root)

	for _, task := range pipeline.BuiltinTasks() {
		name := task.Name
		sub := &cobra.Command{
			Use:   name + " [task...]",
			Short: task.Description,
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.run(cmd.Context(), cmd.OutOrStdout(), append([]string{name}, args...))
			},
		}
		if name == pipeline.TaskFirebase {
			sub.Aliases = []string{"deploy"}
		}
		root.AddCommand(sub)
	}

	return root
}

// addFlags binds the flags shared by the root command and every task.
func (o *options) addFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&o.dir, "dir", ".", "project root")
	cmd.PersistentFlags().StringVar(&o.config, "config", "", "config file (defaults to gopipe.yaml in the project root when present)")
	cmd.PersistentFlags().BoolVar(&o.deploy, "deploy", false, "minify the bundles for deployment")
	cmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "log level: trace, debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&o.report, "report", "", "write a build report to this file (.json, .yaml)")
}

func (o *options) run(ctx context.Context, out io.Writer, tasks []string) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}

	p, err := pipeline.New(o.dir, cfg, pipeline.WithLoggerProvider(newLoggerProvider(cfg.LogLevel)))
	if err != nil {
		return err
	}
	defer p.Close()

	runErr := p.Run(ctx, tasks...)
	if report, ok := p.LastReport(); ok {
		printReport(out, report)
		if o.report != "" {
			if err := pipeline.WriteReport(o.report, report); err != nil {
				return err
			}
		}
	}
	if runErr != nil {
		return runErr
	}

	if p.Serving() {
		fmt.Fprintf(out, "serving http://%s (ctrl+c to stop)\n", p.Server().Addr())
	}
	p.Wait(ctx)
	return nil
}

// loadConfig reads the explicit --config file, or gopipe.yaml from the
// project root when it exists, and applies the flag overrides.
func (o *options) loadConfig() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()

	name := o.config
	if name == "" {
		candidate := filepath.Join(o.dir, pipeline.DefaultConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			name = candidate
		}
	}
	if name != "" {
		loaded, err := pipeline.LoadConfig(name)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if o.deploy {
		cfg.DeployMode = true
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

func newLoggerProvider(level string) pipeline.LoggerProvider {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(), glog.WithLevel(glog.Trace),
		glog.WithName("gopipe"),
	)
	return pipeline.FilterLoggerProvider(
		pipeline.GoLoggerProvider(baseLoggerProvider{root: lgr}),
		pipeline.ParseLogLevel(level),
	)
}

func printReport(out io.Writer, report pipeline.Report) {
	for _, name := range report.Order {
		res := report.Results[name]
		fmt.Fprintf(out, "%-12s %-10s %s\n", name, res.Status, res.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(out, "finished in %s\n", report.Duration.Round(time.Millisecond))
}
