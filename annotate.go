package pipeline

import (
	"reflect"
	"sort"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"github.com/goliatone/go-errors"
)

// injectableArgs maps AngularJS registration methods to the index of the
// argument that holds the injectable function.
var injectableArgs = map[string]int{
	"controller": 1,
	"service":    1,
	"factory":    1,
	"provider":   1,
	"directive":  1,
	"filter":     1,
	"animation":  1,
	"decorator":  1,
	"component":  1,
	"config":     0,
	"run":        0,
}

type textEdit struct {
	pos  int
	text string
}

// declaration is a named function or class that registrations may reference.
type declaration struct {
	fn    ast.Node
	end   int
	count int
}

// annotateInjections rewrites shorthand dependency injection into explicit
// annotations. Inline injectables get the array notation, so
// `.controller('A', function($scope) {})` becomes
// `.controller('A', ['$scope', function($scope) {}])`. Injectables passed by
// name get `Name.$inject = [...]` after their declaration in the same file.
// Functions that are already annotated, take no parameters, or use
// destructuring are left alone.
func annotateInjections(f File) (File, error) {
	src := string(f.Contents)
	program, err := parser.ParseFile(nil, f.Path, src, 0, parser.WithDisableSourceMaps)
	if err != nil {
		return f, chain(err, errors.CategoryExternal, CodeAnnotationFailed, "failed to parse "+f.Path).
			WithMetadata(map[string]any{"path": f.Path})
	}

	var edits []textEdit
	annotated := make(map[ast.Node]bool)
	// lo and hi bound the source between the neighbouring tokens of fn.
	annotate := func(fn ast.Node, lo, hi int) {
		if fn == nil || annotated[fn] {
			return
		}
		names, ok := injectedNames(fn)
		if !ok || len(names) == 0 {
			return
		}
		annotated[fn] = true

		start, end := int(fn.Idx0())-1, int(fn.Idx1())-1
		pos, text := closeBracket(src, end, hi)
		edits = append(edits,
			textEdit{pos: openBracket(src, lo, start), text: "[" + quoteNames(names) + ", "},
			textEdit{pos: pos, text: text},
		)
	}

	decls := make(map[string]*declaration)
	declare := func(name *ast.Identifier, fn ast.Node, end int) {
		if name == nil || end < 0 {
			return
		}
		d := decls[string(name.Name)]
		if d == nil {
			d = &declaration{}
			decls[string(name.Name)] = d
		}
		d.fn, d.end = fn, end
		d.count++
	}
	injected := make(map[string]bool)
	var refs []string

	inspectJS(program, func(node ast.Node) {
		switch n := node.(type) {
		case *ast.FunctionDeclaration:
			declare(n.Function.Name, n.Function, int(n.Idx1())-1)
		case *ast.ClassDeclaration:
			declare(n.Class.Name, n.Class, int(n.Idx1())-1)
			if n.Class.Name != nil && hasStaticInject(n.Class) {
				injected[string(n.Class.Name.Name)] = true
			}
		case *ast.VariableStatement:
			declareBinding(src, n.List, declare)
		case *ast.LexicalDeclaration:
			declareBinding(src, n.List, declare)
		case *ast.AssignExpression:
			if dot, ok := n.Left.(*ast.DotExpression); ok && dot.Identifier.Name == "$inject" {
				if id, ok := dot.Left.(*ast.Identifier); ok {
					injected[string(id.Name)] = true
				}
			}
		case *ast.CallExpression:
			dot, ok := n.Callee.(*ast.DotExpression)
			if !ok {
				return
			}
			arg, ok := injectableArgs[string(dot.Identifier.Name)]
			if !ok || arg >= len(n.ArgumentList) {
				return
			}

			lo := int(n.LeftParenthesis)
			if arg > 0 {
				lo = int(n.ArgumentList[arg-1].Idx1()) - 1
			}
			hi := int(n.RightParenthesis) - 1
			if arg+1 < len(n.ArgumentList) {
				hi = int(n.ArgumentList[arg+1].Idx0()) - 1
			}

			switch target := n.ArgumentList[arg].(type) {
			case *ast.Identifier:
				refs = append(refs, string(target.Name))
			case *ast.ObjectLiteral:
				// component definitions carry their controller as a property
				annotateProperty(target, "controller", annotate)
			default:
				annotate(target, lo, hi)
			}
		}
	})

	seen := make(map[string]bool)
	for _, name := range refs {
		d := decls[name]
		if seen[name] || injected[name] || d == nil || d.count > 1 {
			continue
		}
		seen[name] = true
		names, ok := injectedNames(d.fn)
		if !ok || len(names) == 0 {
			continue
		}
		edits = append(edits, textEdit{pos: d.end, text: "\n" + name + ".$inject = [" + quoteNames(names) + "];"})
	}

	if len(edits) == 0 {
		return f, nil
	}

	out := applyEdits(f.Contents, edits)
	if _, err := parser.ParseFile(nil, f.Path, string(out), 0, parser.WithDisableSourceMaps); err != nil {
		return f, chain(err, errors.CategoryInternal, CodeAnnotationFailed, "annotated output does not parse: "+f.Path).
			WithMetadata(map[string]any{"path": f.Path})
	}
	return f.WithContents(out), nil
}

func quoteNames(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "'" + n + "'"
	}
	return strings.Join(quoted, ", ")
}

// declareBinding records `var Name = function () {}` style declarations. Only
// single binding statements closed by a semicolon qualify, so the $inject
// assignment can follow the statement.
func declareBinding(src string, list []*ast.Binding, declare func(*ast.Identifier, ast.Node, int)) {
	if len(list) != 1 || list[0].Initializer == nil {
		return
	}
	id, ok := list[0].Target.(*ast.Identifier)
	if !ok {
		return
	}
	switch list[0].Initializer.(type) {
	case *ast.FunctionLiteral, *ast.ArrowFunctionLiteral, *ast.ClassLiteral:
	default:
		return
	}

	for i := int(list[0].Idx1()) - 1; i < len(src); i++ {
		switch src[i] {
		case ' ', '\t', '\n', '\r', ')':
		case ';':
			declare(id, list[0].Initializer, i+1)
			return
		default:
			return
		}
	}
}

func annotateProperty(obj *ast.ObjectLiteral, name string, annotate func(ast.Node, int, int)) {
	for i, prop := range obj.Value {
		keyed, ok := prop.(*ast.PropertyKeyed)
		if !ok || keyed.Computed || propertyKey(keyed.Key) != name {
			continue
		}
		hi := int(obj.RightBrace) - 1
		if i+1 < len(obj.Value) {
			hi = int(obj.Value[i+1].Idx0()) - 1
		}
		annotate(keyed.Value, int(keyed.Key.Idx1())-1, hi)
		return
	}
}

func hasStaticInject(class *ast.ClassLiteral) bool {
	for _, element := range class.Body {
		switch e := element.(type) {
		case *ast.FieldDefinition:
			if e.Static && !e.Computed && propertyKey(e.Key) == "$inject" {
				return true
			}
		case *ast.MethodDefinition:
			if e.Static && !e.Computed && propertyKey(e.Key) == "$inject" {
				return true
			}
		}
	}
	return false
}

// openBracket returns where the opening bracket goes for a node starting at
// start. Grouping parentheses right before the node are included. lo is the
// offset of the preceding token.
func openBracket(src string, lo, start int) int {
	pos := start
	for i := start - 1; i >= lo && i >= 0; i-- {
		switch src[i] {
		case ' ', '\t', '\n', '\r':
		case '(':
			pos = i
		default:
			return pos
		}
	}
	return pos
}

// closeBracket returns the position and text of the closing bracket for a
// node ending at end, where hi is the offset of the next token: the next
// argument, property, or the closing parenthesis or brace. Only separators,
// grouping parentheses and comments sit between end and hi, so the bracket
// goes right after the last of them that is not a comma.
func closeBracket(src string, end, hi int) (int, string) {
	if hi > len(src) || hi < end {
		return end, "]"
	}
	pos := hi
	skip := func(extra string) {
		for pos > end && strings.ContainsRune(" \t\n\r"+extra, rune(src[pos-1])) {
			pos--
		}
	}
	skip("([")
	if pos > end && src[pos-1] == ',' {
		pos--
		skip("")
	}

	// a line comment would swallow the bracket
	lineStart := strings.LastIndexByte(src[:pos], '\n') + 1
	if lineStart < end {
		lineStart = end
	}
	if strings.Contains(src[lineStart:pos], "//") {
		return pos, "\n]"
	}
	return pos, "]"
}

// injectedNames returns the parameter names of an injectable literal. The
// second result is false for nodes that cannot be annotated.
func injectedNames(node ast.Node) ([]string, bool) {
	switch fn := node.(type) {
	case *ast.FunctionLiteral:
		return parameterNames(fn.ParameterList)
	case *ast.ArrowFunctionLiteral:
		return parameterNames(fn.ParameterList)
	case *ast.ClassLiteral:
		for _, element := range fn.Body {
			method, ok := element.(*ast.MethodDefinition)
			if !ok || method.Static || propertyKey(method.Key) != "constructor" {
				continue
			}
			if method.Body == nil {
				return nil, false
			}
			return parameterNames(method.Body.ParameterList)
		}
	}
	return nil, false
}

func parameterNames(params *ast.ParameterList) ([]string, bool) {
	if params == nil || params.Rest != nil {
		return nil, false
	}
	names := make([]string, 0, len(params.List))
	for _, binding := range params.List {
		id, ok := binding.Target.(*ast.Identifier)
		if !ok || binding.Initializer != nil {
			return nil, false
		}
		names = append(names, string(id.Name))
	}
	return names, true
}

func propertyKey(key ast.Expression) string {
	switch k := key.(type) {
	case *ast.StringLiteral:
		return string(k.Value)
	case *ast.Identifier:
		return string(k.Name)
	}
	return ""
}

// applyEdits inserts every edit into src. Later positions go first so earlier
// offsets stay valid.
func applyEdits(src []byte, edits []textEdit) []byte {
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].pos > edits[j].pos })

	out := append([]byte(nil), src...)
	for _, e := range edits {
		if e.pos < 0 || e.pos > len(out) {
			continue
		}
		out = append(out[:e.pos], append([]byte(e.text), out[e.pos:]...)...)
	}
	return out
}

// inspectJS visits every AST node reachable from root. goja does not ship a
// walker, so the traversal follows exported fields by reflection. Variable
// hoisting lists are skipped since they alias nodes already in the tree.
func inspectJS(root ast.Node, visit func(ast.Node)) {
	seen := make(map[uintptr]bool)
	nodeType := reflect.TypeOf((*ast.Node)(nil)).Elem()

	var walk func(v reflect.Value)
	walk = func(v reflect.Value) {
		switch v.Kind() {
		case reflect.Interface:
			if !v.IsNil() {
				walk(v.Elem())
			}
		case reflect.Pointer:
			if v.IsNil() || seen[v.Pointer()] {
				return
			}
			seen[v.Pointer()] = true
			if v.Type().Implements(nodeType) {
				visit(v.Interface().(ast.Node))
			}
			walk(v.Elem())
		case reflect.Struct:
			t := v.Type()
			for i := 0; i < v.NumField(); i++ {
				field := t.Field(i)
				if !field.IsExported() || field.Name == "DeclarationList" || field.Name == "File" {
					continue
				}
				walk(v.Field(i))
			}
		case reflect.Slice:
			for i := 0; i < v.Len(); i++ {
				walk(v.Index(i))
			}
		}
	}
	walk(reflect.ValueOf(root))
}

// verifyScript reports whether code parses as a JavaScript program.
func verifyScript(name string, code []byte) error {
	if _, err := parser.ParseFile(nil, name, string(code), 0, parser.WithDisableSourceMaps); err != nil {
		return chain(err, errors.CategoryInternal, CodeBundleInvalid, "generated bundle does not parse").
			WithMetadata(map[string]any{"path": name})
	}
	return nil
}
