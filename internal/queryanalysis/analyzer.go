package queryanalysis

import (
	"fmt"
	"strconv"
	"strings"

	pgquery "github.com/pganalyze/pg_query_go/v2"
)

// Analysis is the result of analyzing one SQL statement.
type Analysis struct {
	Valid    bool
	Error    string
	Tables   []string
	Filter   WhereFilter
	IsSimple bool
}

func invalid(format string, args ...any) Analysis {
	return Analysis{Valid: false, Error: fmt.Sprintf(format, args...), Filter: None()}
}

// analyze parses sql with the real Postgres grammar and extracts the
// referenced tables and WHERE predicate. Any construct it doesn't
// recognize degrades to Complex/Unknown rather than a parse error --
// only statements Postgres itself rejects are "invalid".
func analyze(sql string) Analysis {
	result, err := pgquery.Parse(sql)
	if err != nil {
		return invalid("parse: %s", err)
	}
	if len(result.Stmts) == 0 {
		return invalid("empty statement")
	}
	if len(result.Stmts) > 1 {
		return invalid("only a single statement is supported")
	}

	selectNode, ok := result.Stmts[0].Stmt.Node.(*pgquery.Node_SelectStmt)
	if !ok {
		return invalid("only SELECT is supported")
	}

	var tables []string
	hasJoin := false
	hasSubq := false
	extractSelect(selectNode.SelectStmt, &tables, &hasJoin, &hasSubq)

	filter := extractWhere(selectNode.SelectStmt.WhereClause)
	isSimple := len(tables) == 1 && !hasJoin && !hasSubq && filter.Kind != FilterComplex

	return Analysis{
		Valid:    true,
		Tables:   tables,
		Filter:   filter,
		IsSimple: isSimple,
	}
}

func extractSelect(stmt *pgquery.SelectStmt, tables *[]string, hasJoin, hasSubq *bool) {
	if stmt == nil {
		return
	}
	if stmt.WithClause != nil {
		for _, cte := range stmt.WithClause.Ctes {
			if c, ok := cte.Node.(*pgquery.Node_CommonTableExpr); ok {
				if inner, ok := c.CommonTableExpr.Ctequery.Node.(*pgquery.Node_SelectStmt); ok {
					extractSelect(inner.SelectStmt, tables, hasJoin, hasSubq)
				}
			}
		}
	}
	if stmt.Larg != nil || stmt.Rarg != nil {
		// Set operation (UNION/INTERSECT/EXCEPT): union both sides' tables.
		extractSelect(stmt.Larg, tables, hasJoin, hasSubq)
		extractSelect(stmt.Rarg, tables, hasJoin, hasSubq)
		return
	}
	for _, from := range stmt.FromClause {
		extractFromItem(from, tables, hasJoin, hasSubq)
	}
}

func extractFromItem(node *pgquery.Node, tables *[]string, hasJoin, hasSubq *bool) {
	switch n := node.Node.(type) {
	case *pgquery.Node_RangeVar:
		*tables = append(*tables, strings.ToLower(n.RangeVar.Relname))
	case *pgquery.Node_JoinExpr:
		*hasJoin = true
		extractFromItem(n.JoinExpr.Larg, tables, hasJoin, hasSubq)
		extractFromItem(n.JoinExpr.Rarg, tables, hasJoin, hasSubq)
	case *pgquery.Node_RangeSubselect:
		*hasSubq = true
		if sel, ok := n.RangeSubselect.Subquery.Node.(*pgquery.Node_SelectStmt); ok {
			extractSelect(sel.SelectStmt, tables, hasJoin, hasSubq)
		}
	default:
		// Function calls in FROM, lateral joins, etc: not a plain table
		// reference; treated as a derived source.
		*hasSubq = true
	}
}

// extractWhere converts a WHERE clause AST node into the closed tagged
// WhereFilter tree. Anything not in the recognized set becomes Complex.
func extractWhere(node *pgquery.Node) WhereFilter {
	if node == nil {
		return None()
	}
	return extractExpr(node)
}

func extractExpr(node *pgquery.Node) WhereFilter {
	if node == nil {
		return Complex()
	}
	switch n := node.Node.(type) {
	case *pgquery.Node_BoolExpr:
		return extractBoolExpr(n.BoolExpr)
	case *pgquery.Node_NullTest:
		return extractNullTest(n.NullTest)
	case *pgquery.Node_AExpr:
		return extractAExpr(n.AExpr)
	default:
		return Complex()
	}
}

func extractBoolExpr(b *pgquery.BoolExpr) WhereFilter {
	switch b.Boolop {
	case pgquery.BoolExprType_AND_EXPR:
		children := make([]WhereFilter, 0, len(b.Args))
		for _, a := range b.Args {
			children = append(children, extractExpr(a))
		}
		return flattenAnd(children...)
	case pgquery.BoolExprType_OR_EXPR:
		children := make([]WhereFilter, 0, len(b.Args))
		for _, a := range b.Args {
			children = append(children, extractExpr(a))
		}
		return flattenOr(children...)
	default:
		// NOT and anything else: not in the recognized node set.
		return Complex()
	}
}

func extractNullTest(n *pgquery.NullTest) WhereFilter {
	col, ok := columnRefName(n.Arg)
	if !ok {
		return Complex()
	}
	switch n.Nulltesttype {
	case pgquery.NullTestType_IS_NULL:
		return nullFilter(FilterIsNull, col)
	case pgquery.NullTestType_IS_NOT_NULL:
		return nullFilter(FilterIsNotNull, col)
	default:
		return Complex()
	}
}

func extractAExpr(a *pgquery.A_Expr) WhereFilter {
	switch a.Kind {
	case pgquery.A_Expr_Kind_AEXPR_OP:
		return extractComparison(a)
	case pgquery.A_Expr_Kind_AEXPR_IN:
		return extractIn(a)
	default:
		return Complex()
	}
}

func extractComparison(a *pgquery.A_Expr) WhereFilter {
	if len(a.Name) != 1 {
		return Complex()
	}
	opStr, ok := a.Name[0].Node.(*pgquery.Node_String_)
	if !ok {
		return Complex()
	}

	col, colOnLeft := columnRefName(a.Lexpr)
	var other *pgquery.Node
	if colOnLeft {
		other = a.Rexpr
	} else {
		col, ok = columnRefName(a.Rexpr)
		if !ok {
			return Complex()
		}
		other = a.Lexpr
	}

	val, ok := literalValue(other)
	if !ok {
		return Complex()
	}

	op := opStr.String_.Sval
	if !colOnLeft {
		op = flipOperator(op)
	}

	switch op {
	case "=":
		return cmpFilter(FilterEq, col, val)
	case "<>", "!=":
		return cmpFilter(FilterNe, col, val)
	case ">":
		return cmpFilter(FilterGt, col, val)
	case ">=":
		return cmpFilter(FilterGte, col, val)
	case "<":
		return cmpFilter(FilterLt, col, val)
	case "<=":
		return cmpFilter(FilterLte, col, val)
	default:
		return Complex()
	}
}

// flipOperator swaps the comparison direction when the column appeared on
// the right-hand side (`val op col` instead of `col op val`).
func flipOperator(op string) string {
	switch op {
	case ">":
		return "<"
	case ">=":
		return "<="
	case "<":
		return ">"
	case "<=":
		return ">="
	default:
		return op
	}
}

func extractIn(a *pgquery.A_Expr) WhereFilter {
	col, ok := columnRefName(a.Lexpr)
	if !ok {
		return Complex()
	}
	list, ok := a.Rexpr.Node.(*pgquery.Node_List)
	if !ok {
		return Complex()
	}
	if len(list.List.Items) == 0 {
		return Complex()
	}
	vals := make([]FilterValue, 0, len(list.List.Items))
	for _, item := range list.List.Items {
		v, ok := literalValue(item)
		if !ok {
			return Complex()
		}
		vals = append(vals, v)
	}
	return inFilter(col, vals)
}

// columnRefName recognizes a bare column reference, ignoring any table
// qualifier and keeping only the final name component.
func columnRefName(node *pgquery.Node) (string, bool) {
	if node == nil {
		return "", false
	}
	ref, ok := node.Node.(*pgquery.Node_ColumnRef)
	if !ok {
		return "", false
	}
	fields := ref.ColumnRef.Fields
	if len(fields) == 0 {
		return "", false
	}
	last := fields[len(fields)-1]
	s, ok := last.Node.(*pgquery.Node_String_)
	if !ok {
		return "", false
	}
	return strings.ToLower(s.String_.Sval), true
}

// literalValue recognizes the literal forms this analyzer allows: null,
// boolean, integer, float, string, and unary minus on a numeric literal.
func literalValue(node *pgquery.Node) (FilterValue, bool) {
	if node == nil {
		return FilterValue{}, false
	}
	switch n := node.Node.(type) {
	case *pgquery.Node_AConst:
		return aConstValue(n.AConst)
	case *pgquery.Node_TypeCast:
		// Casts on literals (e.g. 'active'::text) still denote a literal.
		return literalValue(n.TypeCast.Arg)
	case *pgquery.Node_AExpr:
		// Unary minus is parsed as an AExpr with Kind AEXPR_OP, a nil Lexpr
		// and operator "-".
		if n.AExpr.Kind == pgquery.A_Expr_Kind_AEXPR_OP && n.AExpr.Lexpr == nil {
			if opStr, ok := n.AExpr.Name[0].Node.(*pgquery.Node_String_); ok && opStr.String_.Sval == "-" {
				v, ok := literalValue(n.AExpr.Rexpr)
				if !ok {
					return FilterValue{}, false
				}
				if v.Kind == ValFloat {
					return FloatValue(-v.Float), true
				}
				return IntValue(-v.Int), true
			}
		}
		return FilterValue{}, false
	default:
		return FilterValue{}, false
	}
}

func aConstValue(c *pgquery.A_Const) (FilterValue, bool) {
	switch v := c.Val.(type) {
	case *pgquery.A_Const_Ival:
		return IntValue(v.Ival.Ival), true
	case *pgquery.A_Const_Fval:
		f, err := strconv.ParseFloat(v.Fval.Fval, 64)
		if err != nil {
			return FilterValue{}, false
		}
		return FloatValue(f), true
	case *pgquery.A_Const_Boolval:
		return BoolValue(v.Boolval.Boolval), true
	case *pgquery.A_Const_Sval:
		return StrValue(v.Sval.Sval), true
	case nil:
		return NullValue(), true
	default:
		return FilterValue{}, false
	}
}
