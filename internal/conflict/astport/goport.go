package astport

import (
	"go/ast"
	"go/parser"
	"go/token"

	"golang.org/x/tools/go/ast/astutil"
)

// GoPort is the Go-specific AST port, backed by go/parser and go/ast. It
// reports unavailable (false) whenever any of the three sources fail to
// parse rather than diffing partial trees; Registry passes that result
// through without trying the heuristic port.
type GoPort struct{}

// NewGoPort returns the Go AST port.
func NewGoPort() *GoPort {
	return &GoPort{}
}

// Diff parses base/ours/theirs as Go source and compares their top-level
// declaration and import sets. lang is ignored; GoPort is only ever
// registered under "go".
func (g *GoPort) Diff(lang string, base, ours, theirs []byte) (*NodeDiff, bool) {
	fset := token.NewFileSet()
	baseFile, err := parser.ParseFile(fset, "base.go", base, parser.AllErrors)
	if err != nil {
		return nil, false
	}
	oursFile, err := parser.ParseFile(fset, "ours.go", ours, parser.AllErrors)
	if err != nil {
		return nil, false
	}
	theirsFile, err := parser.ParseFile(fset, "theirs.go", theirs, parser.AllErrors)
	if err != nil {
		return nil, false
	}

	baseNodes := declSignatures(baseFile)
	oursNodes := declSignatures(oursFile)
	theirsNodes := declSignatures(theirsFile)

	oursAdded, oursRemoved := diffSpans(baseNodes, oursNodes)
	theirsAdded, theirsRemoved := diffSpans(baseNodes, theirsNodes)

	overlap := intersect(append(oursAdded, oursRemoved...), append(theirsAdded, theirsRemoved...))

	diff := &NodeDiff{
		OursSpans:   append(oursAdded, oursRemoved...),
		TheirsSpans: append(theirsAdded, theirsRemoved...),
	}
	if len(overlap) > 0 {
		diff.ModifiedSameNode = true
	} else {
		diff.AddedOnly = true
	}
	return diff, true
}

// declSignatures returns one string per top-level declaration and import
// spec, identifying it by kind+name so a pure reordering doesn't read as a
// change. astutil.Apply walks the tree uniformly across decls and imports.
func declSignatures(file *ast.File) []string {
	var sigs []string
	for _, spec := range file.Imports {
		sigs = append(sigs, "import:"+spec.Path.Value)
	}

	astutil.Apply(file, func(c *astutil.Cursor) bool {
		switch n := c.Node().(type) {
		case *ast.FuncDecl:
			recv := ""
			if n.Recv != nil && len(n.Recv.List) > 0 {
				recv = exprString(n.Recv.List[0].Type) + "."
			}
			sigs = append(sigs, "func:"+recv+n.Name.Name)
			return false
		case *ast.GenDecl:
			for _, spec := range n.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					sigs = append(sigs, "type:"+s.Name.Name)
				case *ast.ValueSpec:
					for _, name := range s.Names {
						sigs = append(sigs, "value:"+name.Name)
					}
				}
			}
			return false
		}
		return true
	}, nil)

	return sigs
}

func exprString(e ast.Expr) string {
	switch t := e.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return exprString(t.X)
	default:
		return ""
	}
}
