package pipeline

import (
	"context"
	"path"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// VendorBundler concatenates third-party scripts in their declared order.
// Order matters: globals like window.angular must exist before plugins load.
type VendorBundler struct {
	dist    string
	cfg     VendorConfig
	minify  bool
	sources *SourceProvider
	logger  Logger
}

func NewVendorBundler(dist string, cfg VendorConfig, minify bool, sources *SourceProvider, provider LoggerProvider) *VendorBundler {
	return &VendorBundler{
		dist:    dist,
		cfg:     cfg,
		minify:  minify,
		sources: sources,
		logger:  scopedLogger(provider, "pipeline:vendor", nil),
	}
}

// Inputs returns the project relative module paths in declared order.
func (v *VendorBundler) Inputs() PathSet {
	set := make(PathSet, 0, len(v.cfg.Modules))
	for _, m := range v.cfg.Modules {
		set = append(set, path.Join(v.cfg.Dir, m))
	}
	return set
}

func (v *VendorBundler) Run(ctx context.Context) error {
	inputs := v.Inputs()
	files, err := v.sources.Read(ctx, inputs)
	if err != nil {
		return err
	}

	if len(files) < len(inputs) {
		found := make(map[string]bool, len(files))
		for _, f := range files {
			found[f.Path] = true
		}
		for _, p := range inputs {
			if !found[cleanPattern(p)] {
				v.logger.Warn("vendor module not found, skipping", "path", p)
			}
		}
	}

	stages := []Stage{Concat(v.cfg.Output, "\n")}
	if v.minify {
		stages = append(stages, EachFile("uglify", func(_ context.Context, f File) (File, error) {
			out, err := minifyJS(f.Path, f.Contents)
			if err != nil {
				return f, err
			}
			return f.WithContents(out), nil
		}))
	}

	out, err := Apply(ctx, files, stages...)
	if err != nil {
		return err
	}

	bundle := out[0]
	if err := writeFileAtomic(filepath.Join(v.dist, filepath.FromSlash(v.cfg.Output)), bundle.Contents); err != nil {
		return err
	}

	v.logger.Info("vendor bundle written",
		"path", v.cfg.Output,
		"modules", len(files),
		"minified", v.minify,
		"size", humanize.Bytes(uint64(len(bundle.Contents))),
	)
	return nil
}
