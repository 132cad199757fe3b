package instrument

import (
	"go/ast"
	"strconv"
)

// funcName returns the symbol name of a declared function the way the Go
// runtime reports it: pkg.F, pkg.T.M, pkg.(*T).M, with type parameters
// elided as [...].
func funcName(pkg string, decl *ast.FuncDecl) string {
	if decl.Recv == nil || len(decl.Recv.List) == 0 {
		if decl.Type.TypeParams != nil && len(decl.Type.TypeParams.List) > 0 {
			return pkg + "." + decl.Name.Name + "[...]"
		}
		return pkg + "." + decl.Name.Name
	}

	recv := decl.Recv.List[0].Type
	pointer := false
	if star, ok := recv.(*ast.StarExpr); ok {
		pointer = true
		recv = star.X
	}

	typeName := receiverTypeName(recv)
	if pointer {
		typeName = "(*" + typeName + ")"
	}
	return pkg + "." + typeName + "." + decl.Name.Name
}

func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverTypeName(t.X) + "[...]"
	case *ast.IndexListExpr:
		return receiverTypeName(t.X) + "[...]"
	case *ast.ParenExpr:
		return receiverTypeName(t.X)
	default:
		return "?"
	}
}

// closureName names the n-th (1-based) function literal directly inside
// the function named outer. Literals in package-level initializers hang
// off pkg.glob.; literals nested in literals get a bare ordinal.
func closureName(outer string, nested bool, n int) string {
	if nested {
		return outer + "." + strconv.Itoa(n)
	}
	return outer + ".func" + strconv.Itoa(n)
}

// globName is the outer name for literals in package-level declarations.
func globName(pkg string) string {
	return pkg + ".glob."
}
