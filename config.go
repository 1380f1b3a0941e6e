package pipeline

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-viper/mapstructure/v2"
	"github.com/goliatone/go-errors"
	"gopkg.in/yaml.v2"
)

const (
	DefaultConfigFile   = "gopipe.yaml"
	DefaultDist         = "dist"
	DefaultServerPort   = 4000
	DefaultReloadClient = "/socket.io/socket.io.min.js"
	DefaultClientDir    = "node_modules/socket.io-client/dist"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Config describes the project layout and the behaviour of every build task.
// Paths are relative to the project root.
type Config struct {
	Dist       string `yaml:"dist" toml:"dist" mapstructure:"dist"`
	DeployMode bool   `yaml:"deploy_mode" toml:"deploy_mode" mapstructure:"deploy_mode"`
	LogLevel   string `yaml:"log_level" toml:"log_level" mapstructure:"log_level"`

	Templates TemplatesConfig `yaml:"templates" toml:"templates" mapstructure:"templates"`
	Vendor    VendorConfig    `yaml:"vendor" toml:"vendor" mapstructure:"vendor"`
	Styles    StylesConfig    `yaml:"styles" toml:"styles" mapstructure:"styles"`
	Scripts   ScriptsConfig   `yaml:"scripts" toml:"scripts" mapstructure:"scripts"`
	Static    StaticConfig    `yaml:"static" toml:"static" mapstructure:"static"`
	Server    ServerConfig    `yaml:"server" toml:"server" mapstructure:"server"`
	Watch     []WatchConfig   `yaml:"watch" toml:"watch" mapstructure:"watch"`
	Deploy    DeployConfig    `yaml:"deploy" toml:"deploy" mapstructure:"deploy"`
}

type TemplatesConfig struct {
	Sources []string `yaml:"sources" toml:"sources" mapstructure:"sources"`
	// Root prefixes every template URL before the key transform.
	Root   string `yaml:"root" toml:"root" mapstructure:"root"`
	Module string `yaml:"module" toml:"module" mapstructure:"module"`
	// Output is written relative to the project root, not Dist.
	Output string `yaml:"output" toml:"output" mapstructure:"output"`
}

type VendorConfig struct {
	Dir     string   `yaml:"dir" toml:"dir" mapstructure:"dir"`
	Modules []string `yaml:"modules" toml:"modules" mapstructure:"modules"`
	Output  string   `yaml:"output" toml:"output" mapstructure:"output"`
}

type StylesConfig struct {
	Sources      []string      `yaml:"sources" toml:"sources" mapstructure:"sources"`
	Output       string        `yaml:"output" toml:"output" mapstructure:"output"`
	IncludePaths []string      `yaml:"include_paths" toml:"include_paths" mapstructure:"include_paths"`
	SassBinary   string        `yaml:"sass_binary" toml:"sass_binary" mapstructure:"sass_binary"`
	Timeout      time.Duration `yaml:"timeout" toml:"timeout" mapstructure:"timeout"`
}

type ScriptsConfig struct {
	Sources []string `yaml:"sources" toml:"sources" mapstructure:"sources"`
	// Extra plain JS inputs appended after the typed sources.
	Extra            []string            `yaml:"extra" toml:"extra" mapstructure:"extra"`
	Output           string              `yaml:"output" toml:"output" mapstructure:"output"`
	Global           string              `yaml:"global" toml:"global" mapstructure:"global"`
	Tsconfig         string              `yaml:"tsconfig" toml:"tsconfig" mapstructure:"tsconfig"`
	// TypecheckCommand defaults to tsc against Tsconfig when that file exists.
	TypecheckCommand string              `yaml:"typecheck_command" toml:"typecheck_command" mapstructure:"typecheck_command"`
	SkipTypecheck    bool                `yaml:"skip_typecheck" toml:"skip_typecheck" mapstructure:"skip_typecheck"`
	Manifest         map[string][]string `yaml:"manifest" toml:"manifest" mapstructure:"manifest"`
}

type StaticConfig struct {
	Sources []string `yaml:"sources" toml:"sources" mapstructure:"sources"`
	Base    string   `yaml:"base" toml:"base" mapstructure:"base"`
}

type ServerConfig struct {
	Host string `yaml:"host" toml:"host" mapstructure:"host"`
	// Port 0 picks a free port.
	Port         int           `yaml:"port" toml:"port" mapstructure:"port"`
	ReloadDelay  time.Duration `yaml:"reload_delay" toml:"reload_delay" mapstructure:"reload_delay"`
	ClientScript string        `yaml:"client_script" toml:"client_script" mapstructure:"client_script"`
	// ClientDir holds the socket.io browser client served under /socket.io/.
	ClientDir string `yaml:"client_dir" toml:"client_dir" mapstructure:"client_dir"`
}

type WatchConfig struct {
	Paths []string `yaml:"paths" toml:"paths" mapstructure:"paths"`
	Tasks []string `yaml:"tasks" toml:"tasks" mapstructure:"tasks"`
}

type DeployConfig struct {
	Command string            `yaml:"command" toml:"command" mapstructure:"command"`
	Shell   string            `yaml:"shell" toml:"shell" mapstructure:"shell"`
	Env     map[string]string `yaml:"env" toml:"env" mapstructure:"env"`
	// Timeout of zero waits for the command indefinitely.
	Timeout time.Duration `yaml:"timeout" toml:"timeout" mapstructure:"timeout"`
}

// DefaultConfig returns the layout of the stock AngularJS + TypeScript project.
func DefaultConfig() Config {
	return Config{
		Dist:     DefaultDist,
		LogLevel: "info",
		Templates: TemplatesConfig{
			Sources: []string{"src/app/**/*.html"},
			Root:    "app",
			Module:  "templates",
			Output:  "templates.js",
		},
		Vendor: VendorConfig{
			Dir: "node_modules",
			Modules: []string{
				"angular/angular.js",
				"angular-ui-router/release/angular-ui-router.js",
				"firebase/firebase.js",
				"angularfire/dist/angularfire.js",
				"angular-loading-bar/build/loading-bar.min.js",
			},
			Output: "js/vendor.js",
		},
		Styles: StylesConfig{
			Sources: []string{"src/sass/*.scss"},
			Output:  "css",
			Timeout: 30 * time.Second,
		},
		Scripts: ScriptsConfig{
			Sources:  []string{"src/app/**/*.ts", "!src/app/**/*.spec.ts", "!src/app/**/*.d.ts"},
			Extra:    []string{"templates.js"},
			Output:   "js/bundle.js",
			Global:   "angular",
			Tsconfig: "tsconfig.json",
		},
		Static: StaticConfig{
			Sources: []string{"src/index.html", "src/fonts/**/*", "src/img/**/*"},
			Base:    "src",
		},
		Server: ServerConfig{
			Host:         "localhost",
			Port:         DefaultServerPort,
			ReloadDelay:  DefaultWatchDebounce,
			ClientScript: DefaultReloadClient,
			ClientDir:    DefaultClientDir,
		},
		Watch: []WatchConfig{
			{Paths: []string{"src/app/**/*.ts", "src/app/**/*.html"}, Tasks: []string{TaskTemplates, TaskScripts}},
			{Paths: []string{"src/sass/**/*.scss"}, Tasks: []string{TaskStyles}},
		},
		Deploy: DeployConfig{
			Command: "firebase deploy",
			Shell:   "/bin/sh",
		},
	}
}

// Merge overlays override onto c, keeping c's values wherever override is
// left at its zero value. Booleans are only promoted when true.
func (c Config) Merge(override Config) Config {
	result := c

	if override.Dist != "" {
		result.Dist = override.Dist
	}
	if override.DeployMode {
		result.DeployMode = true
	}
	if override.LogLevel != "" {
		result.LogLevel = override.LogLevel
	}

	if override.Templates.Sources != nil {
		result.Templates.Sources = override.Templates.Sources
	}
	if override.Templates.Root != "" {
		result.Templates.Root = override.Templates.Root
	}
	if override.Templates.Module != "" {
		result.Templates.Module = override.Templates.Module
	}
	if override.Templates.Output != "" {
		result.Templates.Output = override.Templates.Output
	}

	if override.Vendor.Dir != "" {
		result.Vendor.Dir = override.Vendor.Dir
	}
	if override.Vendor.Modules != nil {
		result.Vendor.Modules = override.Vendor.Modules
	}
	if override.Vendor.Output != "" {
		result.Vendor.Output = override.Vendor.Output
	}

	if override.Styles.Sources != nil {
		result.Styles.Sources = override.Styles.Sources
	}
	if override.Styles.Output != "" {
		result.Styles.Output = override.Styles.Output
	}
	if override.Styles.IncludePaths != nil {
		result.Styles.IncludePaths = override.Styles.IncludePaths
	}
	if override.Styles.SassBinary != "" {
		result.Styles.SassBinary = override.Styles.SassBinary
	}
	if override.Styles.Timeout != 0 {
		result.Styles.Timeout = override.Styles.Timeout
	}

	if override.Scripts.Sources != nil {
		result.Scripts.Sources = override.Scripts.Sources
	}
	if override.Scripts.Extra != nil {
		result.Scripts.Extra = override.Scripts.Extra
	}
	if override.Scripts.Output != "" {
		result.Scripts.Output = override.Scripts.Output
	}
	if override.Scripts.Global != "" {
		result.Scripts.Global = override.Scripts.Global
	}
	if override.Scripts.Tsconfig != "" {
		result.Scripts.Tsconfig = override.Scripts.Tsconfig
	}
	if override.Scripts.TypecheckCommand != "" {
		result.Scripts.TypecheckCommand = override.Scripts.TypecheckCommand
	}
	if override.Scripts.SkipTypecheck {
		result.Scripts.SkipTypecheck = true
	}
	if override.Scripts.Manifest != nil {
		result.Scripts.Manifest = override.Scripts.Manifest
	}

	if override.Static.Sources != nil {
		result.Static.Sources = override.Static.Sources
	}
	if override.Static.Base != "" {
		result.Static.Base = override.Static.Base
	}

	if override.Server.Host != "" {
		result.Server.Host = override.Server.Host
	}
	if override.Server.Port != 0 {
		result.Server.Port = override.Server.Port
	}
	if override.Server.ReloadDelay != 0 {
		result.Server.ReloadDelay = override.Server.ReloadDelay
	}
	if override.Server.ClientScript != "" {
		result.Server.ClientScript = override.Server.ClientScript
	}
	if override.Server.ClientDir != "" {
		result.Server.ClientDir = override.Server.ClientDir
	}

	if override.Watch != nil {
		result.Watch = override.Watch
	}

	if override.Deploy.Command != "" {
		result.Deploy.Command = override.Deploy.Command
	}
	if override.Deploy.Shell != "" {
		result.Deploy.Shell = override.Deploy.Shell
	}
	if override.Deploy.Env != nil {
		result.Deploy.Env = override.Deploy.Env
	}
	if override.Deploy.Timeout != 0 {
		result.Deploy.Timeout = override.Deploy.Timeout
	}

	return result
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var fields []errors.FieldError

	if msg := distProblem(c.Dist); msg != "" {
		fields = append(fields, errors.FieldError{Field: "dist", Message: msg, Value: c.Dist})
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		fields = append(fields, errors.FieldError{Field: "server.port", Message: "must be between 0 and 65535", Value: c.Server.Port})
	}
	if c.Server.ReloadDelay < 0 {
		fields = append(fields, errors.FieldError{Field: "server.reload_delay", Message: "cannot be negative", Value: c.Server.ReloadDelay})
	}
	if c.Deploy.Timeout < 0 {
		fields = append(fields, errors.FieldError{Field: "deploy.timeout", Message: "cannot be negative", Value: c.Deploy.Timeout})
	}
	if !identifierPattern.MatchString(c.Scripts.Global) {
		fields = append(fields, errors.FieldError{Field: "scripts.global", Message: "must be a JavaScript identifier", Value: c.Scripts.Global})
	}
	if path.Ext(c.Scripts.Output) != ".js" {
		fields = append(fields, errors.FieldError{Field: "scripts.output", Message: "must be a .js file", Value: c.Scripts.Output})
	}
	if path.Ext(c.Vendor.Output) != ".js" {
		fields = append(fields, errors.FieldError{Field: "vendor.output", Message: "must be a .js file", Value: c.Vendor.Output})
	}
	if c.Templates.Output == "" {
		fields = append(fields, errors.FieldError{Field: "templates.output", Message: "cannot be empty"})
	}
	if c.Templates.Module == "" {
		fields = append(fields, errors.FieldError{Field: "templates.module", Message: "cannot be empty"})
	}
	for i, w := range c.Watch {
		if len(w.Paths) == 0 || len(w.Tasks) == 0 {
			fields = append(fields, errors.FieldError{
				Field:   fmt.Sprintf("watch[%d]", i),
				Message: "requires paths and tasks",
			})
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return errors.NewValidation("invalid pipeline configuration", fields...).
		WithTextCode(CodeConfigInvalid)
}

// distProblem guards Clean against wiping the project or anything outside it.
func distProblem(dist string) string {
	d := strings.TrimSpace(dist)
	if d == "" {
		return "cannot be empty"
	}
	if filepath.IsAbs(d) {
		return "must be relative to the project root"
	}
	clean := path.Clean(filepath.ToSlash(d))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "must be a directory inside the project root"
	}
	return ""
}

// LoadConfig reads a YAML or TOML file, picked by extension, and merges it
// over DefaultConfig.
func LoadConfig(name string) (Config, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return Config{}, readError(err, name)
	}
	return ParseConfig(data, filepath.Ext(name))
}

// ParseConfig decodes data in the format named by ext (".yaml", ".yml" or
// ".toml") and merges it over DefaultConfig.
func ParseConfig(data []byte, ext string) (Config, error) {
	raw := make(map[string]any)

	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return Config{}, chain(err, errors.CategoryBadInput, CodeConfigInvalid, "failed to parse TOML config")
		}
	case ".yaml", ".yml", "":
		var doc map[any]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Config{}, chain(err, errors.CategoryBadInput, CodeConfigInvalid, "failed to parse YAML config")
		}
		raw = stringKeys(doc)
	default:
		return Config{}, badInput(CodeConfigInvalid, fmt.Sprintf("unsupported config format %q", ext), map[string]any{"ext": ext})
	}

	var override Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &override,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return Config{}, chain(err, errors.CategoryInternal, CodeConfigInvalid, "failed to build config decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, chain(err, errors.CategoryBadInput, CodeConfigInvalid, "failed to decode config")
	}

	return DefaultConfig().Merge(override), nil
}

// stringKeys converts the map[any]any trees yaml.v2 produces into
// map[string]any so TOML and YAML reach the decoder in the same shape.
func stringKeys(in map[any]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[fmt.Sprint(k)] = normalizeYAML(v)
	}
	return out
}

func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[any]any:
		return stringKeys(t)
	case []any:
		for i := range t {
			t[i] = normalizeYAML(t[i])
		}
		return t
	default:
		return v
	}
}
