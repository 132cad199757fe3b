// Package instrument - Runtime import and call construction.
package instrument

import (
	"go/ast"
	"go/token"
	"strconv"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/kolkov/llcov/internal/policy"
)

// injectImport adds the coverage runtime import under CoverPackageAlias.
//
// It fails when the file already uses the alias for something else: the
// inserted calls would not compile. An existing import of the runtime
// under the alias is reused.
func injectImport(fset *token.FileSet, file *ast.File) error {
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		name := ""
		if imp.Name != nil {
			name = imp.Name.Name
		}
		if path == CoverPackageImportPath && name == CoverPackageAlias {
			return nil
		}
		if name == CoverPackageAlias {
			return NewInstrumentationErrorWithSuggestion(fset, imp.Pos(),
				"import name "+CoverPackageAlias+" already used in this file",
				"Rename the import; llcov imports its runtime under that name")
		}
	}

	var clash *ast.Ident
	ast.Inspect(file, func(n ast.Node) bool {
		if id, ok := n.(*ast.Ident); ok && id.Name == CoverPackageAlias && clash == nil {
			clash = id
		}
		return clash == nil
	})
	if clash != nil {
		return NewInstrumentationErrorWithSuggestion(fset, clash.Pos(),
			"identifier "+CoverPackageAlias+" already declared in this file",
			"Rename the conflicting identifier; llcov imports its runtime under that name")
	}

	astutil.AddNamedImport(fset, file, CoverPackageAlias, CoverPackageImportPath)
	return nil
}

// blockCall builds:
//
//	llcovrt.BlockCall("pkg.F", "/src/file.go", 12, 0)
func blockCall(site policy.Site) ast.Stmt {
	return &ast.ExprStmt{
		X: &ast.CallExpr{
			Fun: &ast.SelectorExpr{
				X:   ast.NewIdent(CoverPackageAlias),
				Sel: ast.NewIdent("BlockCall"),
			},
			Args: []ast.Expr{
				stringLit(site.Function),
				stringLit(site.File),
				uintLit(site.Line),
				uintLit(site.Relblock),
			},
		},
	}
}

func stringLit(s string) *ast.BasicLit {
	return &ast.BasicLit{Kind: token.STRING, Value: strconv.Quote(s)}
}

func uintLit(n uint32) *ast.BasicLit {
	return &ast.BasicLit{Kind: token.INT, Value: strconv.FormatUint(uint64(n), 10)}
}
