package dialect

import "strings"

// ColumnDef is the neutral column definition the schema generator
// derives from an OpenAPI document and
// hands to the DDL emitter.
type ColumnDef struct {
	Name          string
	LogicalType   string // "INTEGER", "TEXT", "VARCHAR(n)", "DATETIME", "BOOLEAN", "NUMERIC"
	Nullable      bool
	PrimaryKey    bool
	AutoIncrement bool
	Unique        bool
	Default       string // raw SQL default expression, empty if none
}

// ColumnTypeSQL renders a logical type into the dialect's native type
// name. BOOLEAN becomes INTEGER on SQLite;
// every other logical type passes through unchanged since both backends
// accept the same names for TEXT/INTEGER/VARCHAR/DATETIME/NUMERIC.
func ColumnTypeSQL(d Dialect, logicalType string) string {
	if strings.EqualFold(logicalType, "BOOLEAN") {
		return d.BoolType()
	}
	return logicalType
}

// CreateTableSQL emits CREATE TABLE IF NOT EXISTS for columns, using the
// dialect's own auto-increment syntax for the primary key column.
func CreateTableSQL(d Dialect, table string, columns []ColumnDef) string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE IF NOT EXISTS ")
	sb.WriteString(d.QuoteIdent(table))
	sb.WriteString(" (\n")

	defs := make([]string, 0, len(columns))
	for _, col := range columns {
		if col.AutoIncrement && col.PrimaryKey {
			defs = append(defs, "  "+d.AutoIncrementColumnDDL(d.QuoteIdent(col.Name)))
			continue
		}
		defs = append(defs, "  "+columnDefSQL(d, col))
	}
	sb.WriteString(strings.Join(defs, ",\n"))
	sb.WriteString("\n)")
	return sb.String()
}

func columnDefSQL(d Dialect, col ColumnDef) string {
	var sb strings.Builder
	sb.WriteString(d.QuoteIdent(col.Name))
	sb.WriteString(" ")
	sb.WriteString(ColumnTypeSQL(d, col.LogicalType))
	if col.PrimaryKey {
		sb.WriteString(" PRIMARY KEY")
	}
	if !col.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if col.Unique {
		sb.WriteString(" UNIQUE")
	}
	if col.Default != "" {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(col.Default)
	}
	return sb.String()
}

// AddColumnSQL emits ALTER TABLE ... ADD COLUMN for a single column.
// Added columns are always nullable regardless of the derived schema's
// nullability, since pre-existing rows have no value for them.
func AddColumnSQL(d Dialect, table string, col ColumnDef) string {
	col.Nullable = true
	return "ALTER TABLE " + d.QuoteIdent(table) + " ADD COLUMN " + columnDefSQL(d, col)
}
