package pipeline

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goliatone/go-errors"
)

const (
	TaskDefault    = "default"
	TaskProduction = "production"
	TaskClean      = "clean"
	TaskCopy       = "copy"
	TaskTemplates  = "templates"
	TaskModules    = "modules"
	TaskStyles     = "styles"
	TaskScripts    = "scripts"
	TaskServe      = "serve"
	TaskWatch      = "watch"
	TaskFirebase   = "firebase"
)

var builtinTasks = []Task{
	{Name: TaskClean, Description: "Empty the output directory"},
	{Name: TaskCopy, Description: "Copy static assets into the output directory", Dependencies: []string{TaskClean}},
	{Name: TaskTemplates, Description: "Inline HTML templates into the template cache module"},
	{Name: TaskModules, Description: "Bundle third-party scripts into vendor.js", After: []string{TaskClean}},
	{Name: TaskStyles, Description: "Compile Sass entry points to CSS", After: []string{TaskClean}},
	{Name: TaskScripts, Description: "Transpile and bundle application scripts", Dependencies: []string{TaskTemplates, TaskModules}, After: []string{TaskClean}},
	{Name: TaskServe, Description: "Serve the output directory with live reload"},
	{Name: TaskWatch, Description: "Rebuild on source changes", Dependencies: []string{TaskServe, TaskScripts}},
	{Name: TaskFirebase, Description: "Run the deploy command", Dependencies: []string{TaskStyles, TaskScripts}},
	{Name: TaskDefault, Description: "Build, serve and watch", Dependencies: []string{TaskCopy, TaskStyles, TaskServe, TaskWatch}},
	{Name: TaskProduction, Description: "Build and deploy", Dependencies: []string{TaskCopy, TaskScripts, TaskFirebase}},
}

// BuiltinTasks describes the tasks every Pipeline registers, in registration
// order. The returned tasks carry no work.
func BuiltinTasks() []Task {
	out := make([]Task, len(builtinTasks))
	for i, t := range builtinTasks {
		t.Dependencies = append([]string(nil), t.Dependencies...)
		t.After = append([]string(nil), t.After...)
		out[i] = t
	}
	return out
}

// Pipeline builds one project: it owns the build components and the task graph
// connecting them.
type Pipeline struct {
	root string
	dist string
	cfg  Config

	fs                fs.FS
	loggerProvider    LoggerProvider
	logger            Logger
	errorHandler      func(error)
	eventHandlers     []TaskEventHandler
	sass              SassCompiler
	deployOutput      io.Writer
	templateTransform func(string) string

	sources      *SourceProvider
	orchestrator *Orchestrator

	templates *TemplateInliner
	vendor    *VendorBundler
	styles    *StyleCompiler
	scripts   *ScriptBundler
	cleaner   *Cleaner
	static    *StaticCopier
	server    *DevServer
	deploy    *DeployTrigger
}

// New validates cfg and wires the build for the project at root.
func New(root string, cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, chain(err, errors.CategoryBadInput, CodeConfigInvalid, "invalid project root "+root)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return nil, badInput(CodeConfigInvalid, fmt.Sprintf("project root %s is not a directory", abs),
			map[string]any{"root": abs})
	}

	p := &Pipeline{
		root:           abs,
		dist:           filepath.Join(abs, filepath.FromSlash(cfg.Dist)),
		cfg:            cfg,
		loggerProvider: newStdLoggerProvider(WithStdLoggerMinLevel(ParseLogLevel(cfg.LogLevel))),
		errorHandler:   func(error) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.fs == nil {
		p.fs = os.DirFS(abs)
	}
	p.logger = scopedLogger(p.loggerProvider, "pipeline", nil)

	if err := p.validateWatch(); err != nil {
		return nil, err
	}

	p.buildComponents()

	graph := NewGraph()
	for _, task := range BuiltinTasks() {
		task.Work = p.work(task.Name)
		if err := graph.Register(task); err != nil {
			return nil, err
		}
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	orchOpts := []OrchestratorOption{
		WithOrchestratorLoggerProvider(p.loggerProvider),
		WithWatchRoot(abs),
		WithTaskEventHandler(func(event TaskEvent) {
			if event.Type == TaskEventFailed {
				p.errorHandler(event.Err)
			}
		}),
	}
	for _, handler := range p.eventHandlers {
		orchOpts = append(orchOpts, WithTaskEventHandler(handler))
	}
	p.orchestrator = NewOrchestrator(graph, orchOpts...)

	p.logger.Debug("pipeline ready", "root", abs, "dist", p.dist, "deploy_mode", cfg.DeployMode)
	return p, nil
}

func (p *Pipeline) buildComponents() {
	provider := p.loggerProvider
	cfg := p.cfg

	p.sources = NewSourceProvider(p.root, p.fs)

	templateOpts := []TemplateOption{WithTemplateLogger(scopedLogger(provider, "pipeline:templates", nil))}
	if p.templateTransform != nil {
		templateOpts = append(templateOpts, WithTemplateURLTransform(p.templateTransform))
	}
	p.templates = NewTemplateInliner(p.root, cfg.Templates, p.sources, templateOpts...)

	p.vendor = NewVendorBundler(p.dist, cfg.Vendor, cfg.DeployMode, p.sources, provider)

	p.styles = NewStyleCompiler(p.root, p.dist, cfg.Styles, p.sources,
		WithStyleLogger(scopedLogger(provider, "pipeline:styles", nil)),
		WithSassCompiler(p.sass),
	)

	p.scripts = NewScriptBundler(p.root, p.dist, cfg.Scripts, cfg.DeployMode, p.sources,
		WithScriptLogger(scopedLogger(provider, "pipeline:scripts", nil)))

	p.cleaner = NewCleaner(p.dist, provider)
	p.static = NewStaticCopier(p.dist, cfg.Static, p.sources, provider)
	serverCfg := cfg.Server
	if serverCfg.ClientDir != "" && !filepath.IsAbs(serverCfg.ClientDir) {
		serverCfg.ClientDir = filepath.Join(p.root, filepath.FromSlash(serverCfg.ClientDir))
	}
	p.server = NewDevServer(p.dist, serverCfg, WithServerLogger(scopedLogger(provider, "pipeline:server", nil)))

	var deployOpts []ShellOption
	if p.deployOutput != nil {
		deployOpts = append(deployOpts, WithShellOutput(p.deployOutput))
	}
	p.deploy = NewDeployTrigger(p.root, cfg.Deploy, provider, deployOpts...)
}

func (p *Pipeline) work(name string) WorkFunc {
	switch name {
	case TaskClean:
		return p.cleaner.Run
	case TaskCopy:
		return p.static.Run
	case TaskTemplates:
		return p.templates.Run
	case TaskModules:
		return p.vendor.Run
	case TaskStyles:
		return p.styles.Run
	case TaskScripts:
		return p.scripts.Run
	case TaskServe:
		return p.server.Start
	case TaskWatch:
		return p.watch
	case TaskFirebase:
		return p.deploy.Run
	}
	return nil
}

// watch starts one watch per configured entry. Watches end with ctx or Close.
func (p *Pipeline) watch(ctx context.Context) error {
	for _, w := range p.cfg.Watch {
		if err := p.orchestrator.Watch(ctx, PathSet(w.Paths), w.Tasks...); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) validateWatch() error {
	known := make(map[string]bool, len(builtinTasks))
	for _, t := range builtinTasks {
		known[t.Name] = true
	}

	var fields []errors.FieldError
	for i, w := range p.cfg.Watch {
		for _, name := range w.Tasks {
			if !known[name] {
				fields = append(fields, errors.FieldError{
					Field:   fmt.Sprintf("watch[%d].tasks", i),
					Message: "unknown task",
					Value:   name,
				})
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return errors.NewValidation("invalid pipeline configuration", fields...).
		WithTextCode(CodeConfigInvalid)
}

// Run executes the named tasks and their dependencies. With no names it runs
// the default task.
func (p *Pipeline) Run(ctx context.Context, names ...string) error {
	return p.orchestrator.Run(ctx, names...)
}

// RunOnly executes one task without its dependencies.
func (p *Pipeline) RunOnly(ctx context.Context, name string) error {
	return p.orchestrator.RunOnly(ctx, name)
}

// LastReport returns the outcome of the most recent Run.
func (p *Pipeline) LastReport() (Report, bool) {
	return p.orchestrator.LastReport()
}

func (p *Pipeline) Config() Config {
	return p.cfg
}

func (p *Pipeline) Root() string {
	return p.root
}

func (p *Pipeline) Dist() string {
	return p.dist
}

func (p *Pipeline) Graph() *Graph {
	return p.orchestrator.Graph()
}

// Server exposes the dev server, mostly for its address.
func (p *Pipeline) Server() *DevServer {
	return p.server
}

// Serving reports whether the dev server or a watch is still active.
func (p *Pipeline) Serving() bool {
	return p.server.Running() || p.orchestrator.Watching()
}

// Wait blocks while the pipeline is serving or until ctx is done.
func (p *Pipeline) Wait(ctx context.Context) {
	if !p.Serving() {
		return
	}
	<-ctx.Done()
}

// Close stops the watches, the dev server and the Sass compiler.
func (p *Pipeline) Close() error {
	var errs []error
	if err := p.orchestrator.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.server.Shutdown(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if err := p.styles.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
