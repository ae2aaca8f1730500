package enumvalidator

import (
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"
	"sort"
	"strings"

	"golang.org/x/tools/go/analysis"
)

var Analyzer = &analysis.Analyzer{
	Name: "enumvalidator",
	Doc:  "checks that enum fields only use defined constants and that switches over enums are exhaustive",
	Run:  run,
}

// enumTypes are the closed string enums of the intake model and queue packages.
var enumTypes = map[string]bool{
	"EventType":            true,
	"ContentType":          true,
	"Domain":               true,
	"Priority":             true,
	"Route":                true,
	"TaskType":             true,
	"ClassificationMethod": true,
	"CascadeStage":         true,
	"OutboxStatus":         true,
	"OutboxEventType":      true,
	"Mode":                 true,
}

func run(pass *analysis.Pass) (interface{}, error) {
	for _, file := range pass.Files {
		ast.Inspect(file, func(n ast.Node) bool {
			switch node := n.(type) {
			case *ast.AssignStmt:
				checkAssign(pass, node)
			case *ast.CompositeLit:
				checkCompositeLit(pass, node)
			case *ast.SwitchStmt:
				checkSwitch(pass, node)
			}
			return true
		})
	}
	return nil, nil
}

func checkAssign(pass *analysis.Pass, assign *ast.AssignStmt) {
	for i, lhs := range assign.Lhs {
		if i >= len(assign.Rhs) {
			continue
		}
		sel, ok := lhs.(*ast.SelectorExpr)
		if !ok {
			continue
		}
		if enumNamed(pass.TypesInfo.TypeOf(sel)) != nil && isStringLiteral(assign.Rhs[i]) {
			pass.Reportf(assign.Pos(),
				"enum field %s assigned string literal; use defined constant instead",
				sel.Sel.Name)
		}
	}
}

func checkCompositeLit(pass *analysis.Pass, lit *ast.CompositeLit) {
	for _, elt := range lit.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			continue
		}
		key, ok := kv.Key.(*ast.Ident)
		if !ok {
			continue
		}
		field, ok := pass.TypesInfo.ObjectOf(key).(*types.Var)
		if !ok || !field.IsField() {
			continue
		}
		if enumNamed(field.Type()) != nil && isStringLiteral(kv.Value) {
			pass.Reportf(kv.Pos(),
				"enum field %s assigned string literal; use defined constant instead",
				key.Name)
		}
	}
}

// checkSwitch reports a switch over an enum that has no default clause and
// does not list every constant of the enum.
func checkSwitch(pass *analysis.Pass, sw *ast.SwitchStmt) {
	if sw.Tag == nil {
		return
	}
	named := enumNamed(pass.TypesInfo.TypeOf(sw.Tag))
	if named == nil {
		return
	}

	covered := make(map[string]bool)
	for _, stmt := range sw.Body.List {
		clause, ok := stmt.(*ast.CaseClause)
		if !ok {
			continue
		}
		if clause.List == nil {
			return
		}
		for _, expr := range clause.List {
			if tv, ok := pass.TypesInfo.Types[expr]; ok && tv.Value != nil {
				covered[tv.Value.ExactString()] = true
			}
		}
	}

	var missing []*types.Const
	for _, c := range enumConstants(named) {
		if !covered[c.Val().ExactString()] {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return
	}

	sort.Slice(missing, func(i, j int) bool { return missing[i].Pos() < missing[j].Pos() })
	names := make([]string, len(missing))
	for i, c := range missing {
		names[i] = c.Name()
	}
	pass.Reportf(sw.Pos(), "switch on %s is missing cases: %s", named.Obj().Name(), strings.Join(names, ", "))
}

func enumConstants(named *types.Named) []*types.Const {
	pkg := named.Obj().Pkg()
	if pkg == nil {
		return nil
	}
	scope := pkg.Scope()
	var out []*types.Const
	for _, name := range scope.Names() {
		c, ok := scope.Lookup(name).(*types.Const)
		if !ok || !types.Identical(c.Type(), named) || c.Val().Kind() != constant.String {
			continue
		}
		out = append(out, c)
	}
	return out
}

func enumNamed(t types.Type) *types.Named {
	named, ok := t.(*types.Named)
	if !ok || !enumTypes[named.Obj().Name()] {
		return nil
	}
	basic, ok := named.Underlying().(*types.Basic)
	if !ok || basic.Kind() != types.String {
		return nil
	}
	return named
}

func isStringLiteral(expr ast.Expr) bool {
	lit, ok := expr.(*ast.BasicLit)
	return ok && lit.Kind == token.STRING
}
