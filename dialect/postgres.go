package dialect

import "fmt"

type postgresDialect struct{}

func (postgresDialect) Driver() Driver { return Postgres }

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) SupportsReturning() bool { return true }

func (postgresDialect) LastInsertIDExpr() string { return "" }

func (postgresDialect) BoolType() string { return "BOOLEAN" }

func (postgresDialect) BoolLiteral(v bool) any { return v }

func (postgresDialect) TimestampDefault() string { return "CURRENT_TIMESTAMP" }

func (postgresDialect) AutoIncrementColumnDDL(colName string) string {
	return fmt.Sprintf("%s SERIAL PRIMARY KEY", colName)
}

func (postgresDialect) QuoteIdent(name string) string { return `"` + name + `"` }
