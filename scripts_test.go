package pipeline_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/dop251/goja/parser"
	"github.com/go-sourcemap/sourcemap"
	pipeline "github.com/goliatone/go-pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scriptFixture = map[string]string{
	"src/app/about/about.controller.ts": `// manifest
// requires:
//   - ../app.module.ts
angular.module('app').controller('AboutController', function ($scope: any, $http: any) {
  $scope.title = 'about';
  $scope.load = () => $http.get('/api/about');
});
`,
	"src/app/app.module.ts": `/// <reference path="./typings/angular.d.ts" />
var APP_MODULE = angular.module('app', ['templates']);
`,
	"src/app/core/api.ts": `/// <reference path="../widgets/format.ts" />
var API_MARKER: number = 2;
`,
	"src/app/widgets/format.ts": `var FORMAT_MARKER: number = 1;
`,
	"src/app/app.spec.ts":          "describe('SPEC_MARKER', () => {});\n",
	"src/app/typings/angular.d.ts": "declare var angular: any;\n",
	"templates.js":                 "angular.module('templates', []).run(['$templateCache', function($templateCache) {\n$templateCache.put('./about.html','<p>about</p>');\n}]);",
}

var wrapPattern = regexp.MustCompile(`\(function\s*\(\s*angular\s*\)`)

func newScriptBundler(root string, cfg pipeline.ScriptsConfig, minify bool) *pipeline.ScriptBundler {
	return pipeline.NewScriptBundler(root, filepath.Join(root, "dist"), cfg, minify, pipeline.NewSourceProvider(root))
}

func indexOf(t *testing.T, s, marker string) int {
	t.Helper()
	i := strings.Index(s, marker)
	require.GreaterOrEqual(t, i, 0, "marker %q not found", marker)
	return i
}

func TestScriptBundler_BuildsOrderedAnnotatedBundle(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, scriptFixture)

	bundler := newScriptBundler(root, pipeline.DefaultConfig().Scripts, false)
	require.NoError(t, bundler.Run(context.Background()))

	bundle := readFile(t, filepath.Join(root, "dist/js/bundle.js"))

	_, err := parser.ParseFile(nil, "bundle.js", bundle, 0, parser.WithDisableSourceMaps)
	require.NoError(t, err)

	assert.Less(t, indexOf(t, bundle, "APP_MODULE"), indexOf(t, bundle, "AboutController"))
	assert.Less(t, indexOf(t, bundle, "AboutController"), indexOf(t, bundle, "FORMAT_MARKER"))
	assert.Less(t, indexOf(t, bundle, "FORMAT_MARKER"), indexOf(t, bundle, "API_MARKER"))
	assert.Less(t, indexOf(t, bundle, "API_MARKER"), indexOf(t, bundle, "$templateCache"))

	assert.Regexp(t, `\[\s*["']\$scope["'],\s*["']\$http["'],\s*function\s*\(\s*\$scope,\s*\$http\s*\)`, bundle)
	assert.Len(t, wrapPattern.FindAllString(bundle, -1), 5)
	assert.Contains(t, bundle, "window.angular")
	assert.NotContains(t, bundle, "SPEC_MARKER")
	assert.NotContains(t, bundle, ": any")
	assert.True(t, strings.HasSuffix(bundle, "//# sourceMappingURL=bundle.js.map\n"))
}

func TestScriptBundler_WritesIndexSourceMap(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, scriptFixture)

	require.NoError(t, newScriptBundler(root, pipeline.DefaultConfig().Scripts, false).Run(context.Background()))

	bundle := readFile(t, filepath.Join(root, "dist/js/bundle.js"))
	raw := readFile(t, filepath.Join(root, "dist/js/bundle.js.map"))

	var index struct {
		Version  int    `json:"version"`
		File     string `json:"file"`
		Sections []struct {
			Offset struct {
				Line   int `json:"line"`
				Column int `json:"column"`
			} `json:"offset"`
		} `json:"sections"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &index))
	assert.Equal(t, 3, index.Version)
	assert.Equal(t, "bundle.js", index.File)
	require.Len(t, index.Sections, 5)
	assert.Equal(t, 0, index.Sections[0].Offset.Line)
	for i := 1; i < len(index.Sections); i++ {
		assert.Greater(t, index.Sections[i].Offset.Line, index.Sections[i-1].Offset.Line)
	}

	consumer, err := sourcemap.Parse("bundle.js.map", []byte(raw))
	require.NoError(t, err)

	for marker, want := range map[string]string{
		"AboutController": "about.controller.js",
		"API_MARKER":      "core/api.js",
		"FORMAT_MARKER":   "widgets/format.js",
	} {
		offset := indexOf(t, bundle, marker)
		line := strings.Count(bundle[:offset], "\n") + 1
		column := offset - strings.LastIndex(bundle[:offset], "\n") - 1

		source, _, _, _, ok := consumer.Source(line, column)
		require.True(t, ok, "no mapping for %s", marker)
		assert.True(t, strings.HasSuffix(source, want), "%s mapped to %s", marker, source)
	}
}

func TestScriptBundler_DeployModeMinifies(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, scriptFixture)
	bundlePath := filepath.Join(root, "dist/js/bundle.js")

	require.NoError(t, newScriptBundler(root, pipeline.DefaultConfig().Scripts, false).Run(context.Background()))
	plain := readFile(t, bundlePath)

	require.NoError(t, newScriptBundler(root, pipeline.DefaultConfig().Scripts, true).Run(context.Background()))
	minified := readFile(t, bundlePath)

	assert.Less(t, len(minified), len(plain))
	assert.Contains(t, minified, "$scope")
	assert.Contains(t, minified, "$http")
	_, err := parser.ParseFile(nil, "bundle.js", minified, 0, parser.WithDisableSourceMaps)
	require.NoError(t, err)
}

func TestScriptBundler_DeployModeKeepsNamedInjections(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/app/app.module.ts": "var APP_MODULE = angular.module('app', []);\n",
		"src/app/home/home.controller.ts": `class HomeController {
  constructor(private $scope: any, private $http: any) {}
  load() { return this.$http.get('/api/home'); }
}
angular.module('app').controller('HomeController', HomeController);
`,
	})

	require.NoError(t, newScriptBundler(root, pipeline.DefaultConfig().Scripts, true).Run(context.Background()))
	bundle := readFile(t, filepath.Join(root, "dist/js/bundle.js"))

	assert.Regexp(t, `\.\$inject\s*=\s*\[\s*"\$scope"\s*,\s*"\$http"\s*\]`, bundle)
	assert.NotRegexp(t, `constructor\(\s*\$scope`, bundle)
	_, err := parser.ParseFile(nil, "bundle.js", bundle, 0, parser.WithDisableSourceMaps)
	require.NoError(t, err)
}

func TestScriptBundler_TranspileErrorKeepsPreviousBundle(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, scriptFixture)
	bundlePath := filepath.Join(root, "dist/js/bundle.js")
	bundler := newScriptBundler(root, pipeline.DefaultConfig().Scripts, false)

	require.NoError(t, bundler.Run(context.Background()))
	before := readFile(t, bundlePath)

	writeTree(t, root, map[string]string{
		"src/app/core/api.ts": "var API_MARKER: number = ;\nfunction (: {\n",
	})

	err := bundler.Run(context.Background())
	require.Error(t, err)
	assert.True(t, pipeline.HasTextCode(err, pipeline.CodeTranspileFailed))
	assert.Contains(t, err.Error(), "src/app/core/api.ts:1:")
	assert.Equal(t, before, readFile(t, bundlePath))
}

func TestScriptBundler_ManifestCycle(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, scriptFixture)

	cfg := pipeline.DefaultConfig().Scripts
	cfg.Manifest = map[string][]string{
		"src/app/app.module.ts": {"src/app/about/about.controller.ts"},
	}

	err := newScriptBundler(root, cfg, false).Run(context.Background())
	require.Error(t, err)
	assert.True(t, pipeline.HasTextCode(err, pipeline.CodeManifestCycle))
	assert.NoFileExists(t, filepath.Join(root, "dist/js/bundle.js"))
}

func TestScriptBundler_ManifestUnknownTarget(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, scriptFixture)

	cfg := pipeline.DefaultConfig().Scripts
	cfg.Manifest = map[string][]string{
		"src/app/app.module.ts": {"src/app/missing.ts"},
	}

	err := newScriptBundler(root, cfg, false).Run(context.Background())
	require.Error(t, err)
	assert.True(t, pipeline.HasTextCode(err, pipeline.CodeManifestInvalid))
}

func TestScriptBundler_TypecheckCommand(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, scriptFixture)

	cfg := pipeline.DefaultConfig().Scripts
	cfg.TypecheckCommand = "echo 'src/app/app.module.ts(2,5): error TS2304' >&2; exit 2"

	err := newScriptBundler(root, cfg, false).Run(context.Background())
	require.Error(t, err)
	assert.True(t, pipeline.HasTextCode(err, pipeline.CodeTypecheckFailed))
	assert.NoFileExists(t, filepath.Join(root, "dist/js/bundle.js"))

	cfg.TypecheckCommand = "true"
	require.NoError(t, newScriptBundler(root, cfg, false).Run(context.Background()))
	assert.FileExists(t, filepath.Join(root, "dist/js/bundle.js"))
}

func TestScriptBundler_CustomGlobal(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/app/app.module.ts": "var APP_MODULE = ng.module('app', []);\n",
	})

	cfg := pipeline.DefaultConfig().Scripts
	cfg.Global = "ng"

	require.NoError(t, newScriptBundler(root, cfg, false).Run(context.Background()))
	bundle := readFile(t, filepath.Join(root, "dist/js/bundle.js"))
	assert.Regexp(t, `\(function\s*\(\s*ng\s*\)`, bundle)
	assert.Contains(t, bundle, "window.ng")
}

func TestScriptBundler_NoSourcesWritesEmptyBundle(t *testing.T) {
	root := t.TempDir()

	require.NoError(t, newScriptBundler(root, pipeline.DefaultConfig().Scripts, false).Run(context.Background()))
	assert.Equal(t, "\n//# sourceMappingURL=bundle.js.map\n", readFile(t, filepath.Join(root, "dist/js/bundle.js")))
}
