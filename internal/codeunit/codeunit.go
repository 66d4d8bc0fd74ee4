// Package codeunit extracts top-level Go declarations as retrievable code
// units for the compiler's code lane.
package codeunit

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Kind is the document kind of every code unit.
const Kind = "code"

// maxContent caps the source text kept per unit.
const maxContent = 2000

// Unit is one top-level declaration.
type Unit struct {
	Repo    string `json:"repo"`
	Path    string `json:"path"` // slash-separated, relative to the root
	Symbol  string `json:"symbol"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

// ID is stable across runs: path#symbol.
func (u Unit) ID() string {
	return u.Path + "#" + u.Symbol
}

// Extract walks root and returns units sorted by ID. Test files, vendor,
// testdata and hidden or underscore-prefixed directories are skipped.
// Files that fail to parse are skipped.
func Extract(root, repo string) ([]Unit, error) {
	var units []Unit
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (name == "vendor" || name == "testdata" ||
				strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		fileUnits, err := ParseFile(filepath.ToSlash(rel), src)
		if err != nil {
			return nil
		}
		for i := range fileUnits {
			fileUnits[i].Repo = repo
		}
		units = append(units, fileUnits...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].ID() < units[j].ID() })
	return units, nil
}

// ParseFile extracts the units of one Go source file.
func ParseFile(path string, src []byte) ([]Unit, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	text := func(n ast.Node, doc *ast.CommentGroup) string {
		start := n.Pos()
		if doc != nil {
			start = doc.Pos()
		}
		s := fset.Position(start).Offset
		e := fset.Position(n.End()).Offset
		if s < 0 || e > len(src) || s >= e {
			return ""
		}
		return truncate(string(bytes.TrimSpace(src[s:e])))
	}

	var units []Unit
	add := func(sym, content string) {
		units = append(units, Unit{Path: path, Symbol: sym, Kind: Kind, Content: content})
	}
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			add(funcSymbol(d), text(d, d.Doc))
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts := spec.(*ast.TypeSpec)
				doc := ts.Doc
				var node ast.Node = ts
				if len(d.Specs) == 1 {
					node = d
					if doc == nil {
						doc = d.Doc
					}
				}
				add(ts.Name.Name, text(node, doc))
			}
		}
	}
	return units, nil
}

func funcSymbol(d *ast.FuncDecl) string {
	if d.Recv == nil || len(d.Recv.List) == 0 {
		return d.Name.Name
	}
	t := d.Recv.List[0].Type
	if star, ok := t.(*ast.StarExpr); ok {
		t = star.X
	}
	switch r := t.(type) {
	case *ast.Ident:
		return r.Name + "." + d.Name.Name
	case *ast.IndexExpr:
		if id, ok := r.X.(*ast.Ident); ok {
			return id.Name + "." + d.Name.Name
		}
	case *ast.IndexListExpr:
		if id, ok := r.X.(*ast.Ident); ok {
			return id.Name + "." + d.Name.Name
		}
	}
	return d.Name.Name
}

func truncate(s string) string {
	if len(s) <= maxContent {
		return s
	}
	return s[:maxContent]
}
