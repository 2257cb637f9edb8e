// Package formatting loads user-supplied text transforms written in Go and
// interpreted at runtime.
package formatting

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"sort"
	"strconv"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// FuncName is the function every formatter plugin must declare.
const FuncName = "ClozeInputParser"

// ErrInvalidPlugin is returned when a plugin fails signature or import
// validation.
var ErrInvalidPlugin = errors.New("invalid formatter plugin")

// Transform rewrites card text before cloze resolution.
type Transform func(cloze string) string

// allowedImports is the set of packages a plugin may import. Anything with
// filesystem, network or process access is excluded.
var allowedImports = map[string]bool{
	"bytes":           true,
	"fmt":             true,
	"html":            true,
	"math":            true,
	"regexp":          true,
	"sort":            true,
	"strconv":         true,
	"strings":         true,
	"unicode":         true,
	"unicode/utf8":    true,
	"encoding/json":   true,
	"encoding/base64": true,
}

// Validate parses src and checks that it declares
// func ClozeInputParser(cloze string) string and imports only allowed
// packages.
func Validate(src string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "plugin.go", src, parser.AllErrors)
	if err != nil {
		return fmt.Errorf("%w: parse: %v", ErrInvalidPlugin, err)
	}
	if file.Name.Name != "main" {
		return fmt.Errorf("%w: package must be main, got %q", ErrInvalidPlugin, file.Name.Name)
	}

	var forbidden []string
	for _, imp := range file.Imports {
		path, _ := strconv.Unquote(imp.Path.Value)
		if !allowedImports[path] {
			forbidden = append(forbidden, path)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("%w: forbidden imports %v (allowed: %v)", ErrInvalidPlugin, forbidden, AllowedImports())
	}

	var fn *ast.FuncDecl
	for _, decl := range file.Decls {
		if d, ok := decl.(*ast.FuncDecl); ok && d.Recv == nil && d.Name.Name == FuncName {
			fn = d
			break
		}
	}
	if fn == nil {
		return fmt.Errorf("%w: function %s not found", ErrInvalidPlugin, FuncName)
	}
	return checkSignature(fn)
}

func checkSignature(fn *ast.FuncDecl) error {
	params := fn.Type.Params.List
	if len(params) != 1 || len(params[0].Names) != 1 {
		return fmt.Errorf("%w: %s must take exactly one parameter", ErrInvalidPlugin, FuncName)
	}
	if name := params[0].Names[0].Name; name != "cloze" {
		return fmt.Errorf("%w: parameter must be named cloze, got %q", ErrInvalidPlugin, name)
	}
	if !isString(params[0].Type) {
		return fmt.Errorf("%w: parameter cloze must be a string", ErrInvalidPlugin)
	}

	results := fn.Type.Results
	if results == nil || len(results.List) != 1 || len(results.List[0].Names) > 1 || !isString(results.List[0].Type) {
		return fmt.Errorf("%w: %s must return a single string", ErrInvalidPlugin, FuncName)
	}
	return nil
}

func isString(expr ast.Expr) bool {
	id, ok := expr.(*ast.Ident)
	return ok && id.Name == "string"
}

// Load validates src, interprets it and returns the plugin's transform.
func Load(src string) (Transform, error) {
	if err := Validate(src); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("loading stdlib symbols: %w", err)
	}
	if _, err := i.Eval(src); err != nil {
		return nil, fmt.Errorf("%w: eval: %v", ErrInvalidPlugin, err)
	}

	v, err := i.Eval("main." + FuncName)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %s: %v", ErrInvalidPlugin, FuncName, err)
	}
	fn, ok := v.Interface().(func(string) string)
	if !ok {
		return nil, fmt.Errorf("%w: %s has type %s", ErrInvalidPlugin, FuncName, v.Type())
	}
	return Transform(fn), nil
}

// LoadFile reads a plugin source file and loads it.
func LoadFile(path string) (Transform, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading formatter %s: %w", path, err)
	}
	t, err := Load(string(src))
	if err != nil {
		return nil, fmt.Errorf("formatter %s: %w", path, err)
	}
	return t, nil
}

// AllowedImports lists the packages a plugin may import, sorted.
func AllowedImports() []string {
	out := make([]string, 0, len(allowedImports))
	for p := range allowedImports {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
