package pipeline

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/goliatone/go-errors"
)

// transpileTS strips types from a TypeScript file. tsconfig is handed to
// esbuild as-is; only the options esbuild understands take effect.
func transpileTS(f File, tsconfigRaw string) (File, error) {
	loader := api.LoaderTS
	if f.Ext() == ".tsx" {
		loader = api.LoaderTSX
	}

	result := api.Transform(string(f.Contents), api.TransformOptions{
		Loader:      loader,
		Target:      api.ES2017,
		Sourcefile:  f.Path,
		TsconfigRaw: tsconfigRaw,
	})
	if len(result.Errors) > 0 {
		return f, esbuildFailure(CodeTranspileFailed, "transpile failed", f.Path, result.Errors)
	}

	out := f.WithContents(result.Code)
	out.Path = strings.TrimSuffix(f.Path, f.Ext()) + ".js"
	return out, nil
}

// transformJS reprints a JS file, optionally minified, with an external
// source map whose single source is the file itself.
func transformJS(f File, minify bool) (File, error) {
	result := api.Transform(string(f.Contents), api.TransformOptions{
		Loader:            api.LoaderJS,
		Target:            api.ES2017,
		Sourcefile:        f.Path,
		Sourcemap:         api.SourceMapExternal,
		SourcesContent:    api.SourcesContentInclude,
		MinifyWhitespace:  minify,
		MinifySyntax:      minify,
		MinifyIdentifiers: minify,
		LegalComments:     api.LegalCommentsInline,
	})
	if len(result.Errors) > 0 {
		return f, esbuildFailure(CodeMinifyFailed, "javascript transform failed", f.Path, result.Errors)
	}

	out := f.WithContents(result.Code)
	out.SourceMap = result.Map
	return out, nil
}

// minifyJS minifies a standalone script without a source map.
func minifyJS(name string, code []byte) ([]byte, error) {
	result := api.Transform(string(code), api.TransformOptions{
		Loader:            api.LoaderJS,
		Sourcefile:        name,
		MinifyWhitespace:  true,
		MinifySyntax:      true,
		MinifyIdentifiers: true,
		LegalComments:     api.LegalCommentsInline,
	})
	if len(result.Errors) > 0 {
		return nil, esbuildFailure(CodeMinifyFailed, "minify failed", name, result.Errors)
	}
	return result.Code, nil
}

func esbuildFailure(code, msg, path string, messages []api.Message) error {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Location != nil {
			lines = append(lines, fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column+1, m.Text))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", path, m.Text))
	}

	return errors.New(fmt.Sprintf("%s: %s", msg, strings.Join(lines, "; ")), errors.CategoryExternal).
		WithTextCode(code).
		WithMetadata(map[string]any{
			"path":        path,
			"diagnostics": lines,
		})
}
