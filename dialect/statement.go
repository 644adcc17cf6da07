package dialect

import "strings"

// The types below are the "single neutral SQL-construction form" called
// neutral SQL-construction form: a typed, placeholder-neutral AST that
// compiles to either backend at the last step. The CRUD engine and the
// control plane's /data routes build these instead of hand-formatting
// dialect-specific SQL strings.

// Select is a neutral SELECT statement: SELECT columns FROM table WHERE
// conjuncts ORDER BY ... LIMIT ... OFFSET ...
type Select struct {
	Table   string
	Columns []string // empty means "*"
	Where   []Predicate
	OrderBy string
	Limit   int // 0 means unbounded
	Offset  int
}

// Predicate is a single `column = ?` / `column IN (?, ?,...)` conjunct.
// Conjuncts are always AND-combined, matching the LIST filter model.
type Predicate struct {
	Column string
	Op     string // "=", "IN"
	Values []any
}

func Eq(column string, value any) Predicate {
	return Predicate{Column: column, Op: "=", Values: []any{value}}
}

func In(column string, values []any) Predicate {
	return Predicate{Column: column, Op: "IN", Values: values}
}

// Build compiles the statement against d, returning the SQL text and its
// positional arguments in order.
func (s Select) Build(d Dialect) (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(s.Columns) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(quoteAll(d, s.Columns), ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(d.QuoteIdent(s.Table))

	args := make([]any, 0, 8)
	n := 1
	if len(s.Where) > 0 {
		sb.WriteString(" WHERE ")
		clauses := make([]string, 0, len(s.Where))
		for _, p := range s.Where {
			clause, newN, newArgs := p.compile(d, n)
			clauses = append(clauses, clause)
			args = append(args, newArgs...)
			n = newN
		}
		sb.WriteString(strings.Join(clauses, " AND "))
	}
	if s.OrderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(s.OrderBy)
	}
	if s.Limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(d.Placeholder(n))
		args = append(args, s.Limit)
		n++
	}
	if s.Offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(d.Placeholder(n))
		args = append(args, s.Offset)
		n++
	}
	return sb.String(), args
}

func (p Predicate) compile(d Dialect, n int) (string, int, []any) {
	switch p.Op {
	case "IN":
		placeholders := make([]string, len(p.Values))
		for i := range p.Values {
			placeholders[i] = d.Placeholder(n)
			n++
		}
		return d.QuoteIdent(p.Column) + " IN (" + strings.Join(placeholders, ", ") + ")", n, p.Values
	default:
		clause := d.QuoteIdent(p.Column) + " = " + d.Placeholder(n)
		return clause, n + 1, p.Values
	}
}

// Insert is a neutral INSERT statement for a single row.
type Insert struct {
	Table     string
	Columns   []string
	Values    []any
	PK        string // primary-key column, for RETURNING/last-insert-id retrieval
}

// Build compiles the INSERT. When the dialect supports RETURNING, the SQL
// includes `RETURNING <pk>`; the caller reads it back with QueryRow.
// Otherwise the caller reads the new id from sql.Result.LastInsertId.
func (ins Insert) Build(d Dialect) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(d.QuoteIdent(ins.Table))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(quoteAll(d, ins.Columns), ", "))
	sb.WriteString(") VALUES (")
	placeholders := make([]string, len(ins.Values))
	for i := range ins.Values {
		placeholders[i] = d.Placeholder(i + 1)
	}
	sb.WriteString(strings.Join(placeholders, ", "))
	sb.WriteString(")")
	if ins.PK != "" && d.SupportsReturning() {
		sb.WriteString(" RETURNING ")
		sb.WriteString(d.QuoteIdent(ins.PK))
	}
	return sb.String(), ins.Values
}

// Update is a neutral UPDATE ... SET ... WHERE pk = ? statement.
type Update struct {
	Table   string
	Columns []string
	Values  []any
	Where   []Predicate
}

func (u Update) Build(d Dialect) (string, []any) {
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(d.QuoteIdent(u.Table))
	sb.WriteString(" SET ")

	args := make([]any, 0, len(u.Values)+2)
	n := 1
	sets := make([]string, len(u.Columns))
	for i, col := range u.Columns {
		sets[i] = d.QuoteIdent(col) + " = " + d.Placeholder(n)
		args = append(args, u.Values[i])
		n++
	}
	sb.WriteString(strings.Join(sets, ", "))

	if len(u.Where) > 0 {
		sb.WriteString(" WHERE ")
		clauses := make([]string, 0, len(u.Where))
		for _, p := range u.Where {
			clause, newN, newArgs := p.compile(d, n)
			clauses = append(clauses, clause)
			args = append(args, newArgs...)
			n = newN
		}
		sb.WriteString(strings.Join(clauses, " AND "))
	}
	return sb.String(), args
}

// Delete is a neutral DELETE FROM table WHERE ... statement.
type Delete struct {
	Table string
	Where []Predicate
}

func (del Delete) Build(d Dialect) (string, []any) {
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(d.QuoteIdent(del.Table))

	args := make([]any, 0, 4)
	n := 1
	if len(del.Where) > 0 {
		sb.WriteString(" WHERE ")
		clauses := make([]string, 0, len(del.Where))
		for _, p := range del.Where {
			clause, newN, newArgs := p.compile(d, n)
			clauses = append(clauses, clause)
			args = append(args, newArgs...)
			n = newN
		}
		sb.WriteString(strings.Join(clauses, " AND "))
	}
	return sb.String(), args
}

func quoteAll(d Dialect, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.QuoteIdent(n)
	}
	return out
}
