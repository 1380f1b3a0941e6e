package pipeline

import (
	"bytes"
	"container/heap"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/goliatone/go-errors"
	"gopkg.in/yaml.v2"
)

var referencePattern = regexp.MustCompile(`^\s*///\s*<reference\s+path\s*=\s*["']([^"']+)["']\s*/?>`)

type headerPattern struct {
	start         *regexp.Regexp
	end           *regexp.Regexp
	commentPrefix string
	block         bool
}

// Manifest headers are YAML comment blocks at the top of a script:
//
//	/** manifest
//	 * requires:
//	 *   - ./app.module.ts
//	 */
//
// or the same content as consecutive "// " lines after "// manifest".
var headerPatterns = []headerPattern{
	{
		start:         regexp.MustCompile(`^\s*/\*\*\s*manifest\s*$`),
		end:           regexp.MustCompile(`^\s*\*/`),
		commentPrefix: "*",
		block:         true,
	},
	{
		start:         regexp.MustCompile(`^\s*/{2}\s*manifest\s*$`),
		commentPrefix: "//",
	},
}

type manifestHeader struct {
	Requires []string `yaml:"requires"`
}

// ScriptDeps collects the declared dependencies of one script: triple-slash
// references and manifest header requirements, resolved to project paths.
type ScriptDeps struct {
	References []string
	Requires   []string
}

// ParseScriptDeps reads the dependency declarations of the script at name.
func ParseScriptDeps(name string, content []byte) (ScriptDeps, error) {
	var deps ScriptDeps
	dir := path.Dir(name)

	lines := bytes.Split(content, []byte("\n"))
	for _, line := range lines {
		if m := referencePattern.FindSubmatch(line); m != nil {
			deps.References = append(deps.References, path.Join(dir, string(m[1])))
		}
	}

	header, err := parseManifestHeader(lines)
	if err != nil {
		return deps, chain(err, errors.CategoryBadInput, CodeManifestInvalid, "invalid manifest header in "+name).
			WithMetadata(map[string]any{"path": name})
	}
	for _, req := range header.Requires {
		deps.Requires = append(deps.Requires, path.Join(dir, req))
	}
	return deps, nil
}

func parseManifestHeader(lines [][]byte) (manifestHeader, error) {
	var header manifestHeader

	for i, line := range lines {
		for _, pattern := range headerPatterns {
			if !pattern.start.Match(line) {
				continue
			}

			var body [][]byte
			for j := i + 1; j < len(lines); j++ {
				if pattern.block {
					if pattern.end.Match(lines[j]) {
						break
					}
				} else if !bytes.HasPrefix(bytes.TrimSpace(lines[j]), []byte(pattern.commentPrefix)) {
					break
				}
				body = append(body, stripCommentPrefix(lines[j], pattern.commentPrefix))
			}

			if err := yaml.Unmarshal(bytes.Join(body, []byte("\n")), &header); err != nil {
				return header, err
			}
			return header, nil
		}
	}
	return header, nil
}

// stripCommentPrefix removes leading indentation, the comment marker and one
// optional space.
func stripCommentPrefix(line []byte, prefix string) []byte {
	trimmed := bytes.TrimLeft(line, " \t")
	trimmed = bytes.TrimPrefix(trimmed, []byte(prefix))
	return bytes.TrimPrefix(trimmed, []byte(" "))
}

// scriptKey maps typed and plain script paths onto one key so dependencies
// declared against .ts sources still match transpiled .js records.
func scriptKey(p string) string {
	p = cleanPattern(p)
	switch path.Ext(p) {
	case ".ts", ".tsx":
		return strings.TrimSuffix(p, path.Ext(p)) + ".js"
	}
	return p
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Manifest is the declared dependency map between scripts.
type Manifest struct {
	// declared entries must reference scripts that are part of the bundle
	declared map[string][]string
	// soft entries, such as triple-slash references, may point outside it
	soft map[string][]string
}

func NewManifest(declared map[string][]string) *Manifest {
	m := &Manifest{
		declared: make(map[string][]string),
		soft:     make(map[string][]string),
	}
	for file, deps := range declared {
		for _, dep := range deps {
			m.Require(file, dep)
		}
	}
	return m
}

// Require declares that file must load after dep.
func (m *Manifest) Require(file, dep string) {
	key := scriptKey(file)
	m.declared[key] = append(m.declared[key], scriptKey(dep))
}

// Reference records a dependency that is ignored when dep is not bundled.
func (m *Manifest) Reference(file, dep string) {
	key := scriptKey(file)
	m.soft[key] = append(m.soft[key], scriptKey(dep))
}

// Add records every dependency in deps for file.
func (m *Manifest) Add(file string, deps ScriptDeps) {
	for _, ref := range deps.References {
		m.Reference(file, ref)
	}
	for _, req := range deps.Requires {
		m.Require(file, req)
	}
}

// Order sorts files so every dependency precedes its dependents. Files with
// no ordering constraint between them keep their input order.
func (m *Manifest) Order(files []File) ([]File, error) {
	index := make(map[string]int, len(files))
	for i, f := range files {
		index[scriptKey(f.Path)] = i
	}

	outgoing := make([][]int, len(files))
	indeg := make([]int, len(files))
	edge := func(from, to int) {
		for _, existing := range outgoing[from] {
			if existing == to {
				return
			}
		}
		outgoing[from] = append(outgoing[from], to)
		indeg[to]++
	}

	for _, file := range sortedKeys(m.declared) {
		deps := m.declared[file]
		to, ok := index[file]
		if !ok {
			return nil, badInput(CodeManifestInvalid, fmt.Sprintf("manifest entry %s is not part of the bundle", file),
				map[string]any{"file": file})
		}
		for _, dep := range deps {
			from, ok := index[dep]
			if !ok {
				return nil, badInput(CodeManifestInvalid, fmt.Sprintf("%s requires %s which is not part of the bundle", file, dep),
					map[string]any{"file": file, "dependency": dep})
			}
			if from == to {
				return nil, badInput(CodeManifestCycle, fmt.Sprintf("%s requires itself", file), map[string]any{"file": file})
			}
			edge(from, to)
		}
	}
	for _, file := range sortedKeys(m.soft) {
		to, ok := index[file]
		if !ok {
			continue
		}
		deps := m.soft[file]
		for _, dep := range deps {
			if from, ok := index[dep]; ok && from != to {
				edge(from, to)
			}
		}
	}

	ready := &intMinHeap{}
	heap.Init(ready)
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	ordered := make([]File, 0, len(files))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		ordered = append(ordered, files[n])
		for _, next := range outgoing[n] {
			indeg[next]--
			if indeg[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}

	if len(ordered) != len(files) {
		cycle := manifestCycle(files, outgoing)
		return nil, badInput(CodeManifestCycle, "script dependency cycle: "+strings.Join(cycle, " -> "),
			map[string]any{"cycle": cycle})
	}
	return ordered, nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func manifestCycle(files []File, outgoing [][]int) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(files))
	var stack []int
	var cycle []string

	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		stack = append(stack, u)
		for _, v := range outgoing[u] {
			if color[v] == gray {
				for i, n := range stack {
					if n == v {
						for _, c := range stack[i:] {
							cycle = append(cycle, files[c].Path)
						}
						cycle = append(cycle, files[v].Path)
						return true
					}
				}
			}
			if color[v] == white && dfs(v) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
		return false
	}

	for i := range files {
		if color[i] == white && dfs(i) {
			break
		}
	}
	return cycle
}
