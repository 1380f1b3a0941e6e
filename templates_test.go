package pipeline_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dop251/goja/parser"
	pipeline "github.com/goliatone/go-pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplateURLTransform(t *testing.T) {
	tests := map[string]string{
		"app/foo.html":             "./foo.html",
		"app/widgets/foo.html":     "./foo.html",
		"app/widgets/foo/foo.html": "./foo.html",
		"foo.html":                 "foo.html",
	}
	for in, want := range tests {
		assert.Equal(t, want, pipeline.DefaultTemplateURLTransform(in), in)
	}
}

func TestTemplateInliner_WritesCacheModuleToRoot(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/app/home/home.html":         "<div class=\"home\">\n    <h1>Home</h1>\n</div>\n",
		"src/app/widgets/list/list.html": "<ul>\n  <li ng-repeat=\"i in items\">{{ i }}</li>\n</ul>",
		"src/app/nav.html":               "<nav>it's</nav>",
		"src/index.html":                 "<html></html>",
	})

	inliner := pipeline.NewTemplateInliner(root, pipeline.DefaultConfig().Templates, pipeline.NewSourceProvider(root))
	require.NoError(t, inliner.Run(context.Background()))

	assert.Equal(t, filepath.Join(root, "templates.js"), inliner.OutputPath())
	module := readFile(t, filepath.Join(root, "templates.js"))

	assert.True(t, strings.HasPrefix(module,
		"angular.module('templates', []).run(['$templateCache', function($templateCache) {\n"))
	assert.True(t, strings.HasSuffix(module, "}]);"))
	assert.Contains(t, module, `$templateCache.put('./home.html','<div class="home"><h1>Home</h1></div>');`)
	assert.Contains(t, module, `$templateCache.put('./list.html','<ul><li ng-repeat="i in items">{{ i }}</li></ul>');`)
	assert.Contains(t, module, `$templateCache.put('./nav.html','<nav>it\'s</nav>');`)
	assert.NotContains(t, module, "<html>")

	// resolution order: src/app/home, src/app/nav.html, src/app/widgets
	assert.Less(t, strings.Index(module, "./home.html"), strings.Index(module, "./nav.html"))
	assert.Less(t, strings.Index(module, "./nav.html"), strings.Index(module, "./list.html"))

	_, err := parser.ParseFile(nil, "templates.js", module, 0, parser.WithDisableSourceMaps)
	require.NoError(t, err)
}

func TestTemplateInliner_DuplicateKeyLastWins(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/app/a/item.html": "<p>first</p>",
		"src/app/b/item.html": "<p>second</p>",
	})

	inliner := pipeline.NewTemplateInliner(root, pipeline.DefaultConfig().Templates, pipeline.NewSourceProvider(root))
	require.NoError(t, inliner.Run(context.Background()))

	module := readFile(t, filepath.Join(root, "templates.js"))
	assert.Equal(t, 1, strings.Count(module, "$templateCache.put("))
	assert.Contains(t, module, "<p>second</p>")
	assert.NotContains(t, module, "<p>first</p>")
}

func TestTemplateInliner_CustomTransform(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"src/app/home/home.html": "<p>x</p>"})

	cfg := pipeline.DefaultConfig().Templates
	cfg.Module = "app.templates"
	inliner := pipeline.NewTemplateInliner(root, cfg, pipeline.NewSourceProvider(root),
		pipeline.WithTemplateURLTransform(func(url string) string { return "/" + url }))
	require.NoError(t, inliner.Run(context.Background()))

	module := readFile(t, filepath.Join(root, "templates.js"))
	assert.Contains(t, module, "angular.module('app.templates', [])")
	assert.Contains(t, module, "$templateCache.put('/app/home/home.html','<p>x</p>');")
}

func TestTemplateInliner_NoTemplatesStillWritesModule(t *testing.T) {
	root := t.TempDir()

	inliner := pipeline.NewTemplateInliner(root, pipeline.DefaultConfig().Templates, pipeline.NewSourceProvider(root))
	require.NoError(t, inliner.Run(context.Background()))

	assert.Equal(t,
		"angular.module('templates', []).run(['$templateCache', function($templateCache) {\n}]);",
		readFile(t, filepath.Join(root, "templates.js")))
}
