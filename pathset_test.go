package pipeline_test

import (
	"context"
	"testing"
	"testing/fstest"

	pipeline "github.com/goliatone/go-pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func projectFS() fstest.MapFS {
	return fstest.MapFS{
		"src/index.html":                    {Data: []byte("<html></html>")},
		"src/app/app.ts":                    {Data: []byte("angular.module('app', []);")},
		"src/app/app.spec.ts":               {Data: []byte("describe('app', () => {});")},
		"src/app/widgets/list/list.ts":      {Data: []byte("class List {}")},
		"src/app/widgets/list/list.html":    {Data: []byte("<ul></ul>")},
		"src/sass/main.scss":                {Data: []byte("body { color: red; }")},
		"src/sass/_partials/_vars.scss":     {Data: []byte("$c: red;")},
		"node_modules/angular/angular.js":   {Data: []byte("window.angular = {};")},
		"node_modules/lodash/lodash.min.js": {Data: []byte("window._ = {};")},
	}
}

func sourcePaths(sources []pipeline.Source) []string {
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		out = append(out, s.Path)
	}
	return out
}

func TestSourceProvider_ResolveGlobWithExclusion(t *testing.T) {
	provider := pipeline.NewSourceProvider("", projectFS())

	sources, err := provider.Resolve(context.Background(), pipeline.PathSet{"src/app/**/*.ts", "!src/app/**/*.spec.ts"})
	require.NoError(t, err)

	assert.Equal(t, []string{"src/app/app.ts", "src/app/widgets/list/list.ts"}, sourcePaths(sources))
	assert.Equal(t, "src/app", sources[0].Base)
}

func TestSourceProvider_ResolveKeepsLiteralOrder(t *testing.T) {
	provider := pipeline.NewSourceProvider("", projectFS())

	sources, err := provider.Resolve(context.Background(), pipeline.PathSet{
		"node_modules/lodash/lodash.min.js",
		"node_modules/angular/angular.js",
		"node_modules/lodash/lodash.min.js",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"node_modules/lodash/lodash.min.js", "node_modules/angular/angular.js"}, sourcePaths(sources))
}

func TestSourceProvider_ResolveMissingIsEmpty(t *testing.T) {
	provider := pipeline.NewSourceProvider("", projectFS())

	sources, err := provider.Resolve(context.Background(), pipeline.PathSet{"src/missing/**/*.ts", "src/nope.js"})
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestSourceProvider_ResolveCleansPatterns(t *testing.T) {
	provider := pipeline.NewSourceProvider("", projectFS())

	sources, err := provider.Resolve(context.Background(), pipeline.PathSet{"./src//index.html"})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "src/index.html", sources[0].Path)
	assert.Equal(t, "src", sources[0].Base)
}

func TestSourceProvider_ReadLoadsContents(t *testing.T) {
	provider := pipeline.NewSourceProvider("", projectFS())

	files, err := provider.Read(context.Background(), pipeline.PathSet{"src/sass/*.scss"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "main.scss", files[0].Relative())
	assert.Equal(t, "body { color: red; }", string(files[0].Contents))
}

func TestSourceProvider_MaxFileSize(t *testing.T) {
	provider := pipeline.NewSourceProvider("", projectFS()).WithMaxFileSize(4)

	_, err := provider.Read(context.Background(), pipeline.PathSet{"src/index.html"})
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrSourceTooLarge)
}

func TestSourceProvider_ContextCancelled(t *testing.T) {
	provider := pipeline.NewSourceProvider("", projectFS())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.Resolve(ctx, pipeline.PathSet{"src/**/*"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPathSet_Match(t *testing.T) {
	set := pipeline.PathSet{"src/app/**/*.ts", "src/app/**/*.html", "!src/app/**/*.spec.ts"}

	assert.True(t, set.Match("src/app/app.ts"))
	assert.True(t, set.Match("src/app/widgets/list/list.html"))
	assert.False(t, set.Match("src/app/app.spec.ts"))
	assert.False(t, set.Match("src/sass/main.scss"))
}

func TestPathSet_Bases(t *testing.T) {
	set := pipeline.PathSet{"src/app/**/*.ts", "src/app/**/*.html", "src/sass/**/*.scss", "!src/app/x.ts", "src/index.html"}
	assert.Equal(t, []string{"src/app", "src/sass", "src"}, set.Bases())
}

func TestFile_Relative(t *testing.T) {
	f := pipeline.File{Path: "src/fonts/roboto/r.woff", Base: "src"}
	assert.Equal(t, "fonts/roboto/r.woff", f.Relative())

	f = pipeline.File{Path: "templates.js"}
	assert.Equal(t, "templates.js", f.Relative())
}
