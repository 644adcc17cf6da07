package dialect

import "context"

// ColumnMeta describes one column as introspected from a live database.
type ColumnMeta struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
}

// TableMeta describes the live shape of a table, used by the schema
// generator to diff against a derived TableSchema.
type TableMeta struct {
	Name    string
	Columns []ColumnMeta
}

// ListTables returns every table name visible in the pool's database.
func (p *Pool) ListTables(ctx context.Context) ([]string, error) {
	var query string
	switch p.Dialect.Driver() {
	case Postgres:
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'`
	case SQLite:
		query = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`
	}

	rows, err := p.DB.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DescribeTable returns the live column set for table, or a TableMeta
// with zero columns if the table does not exist.
func (p *Pool) DescribeTable(ctx context.Context, table string) (*TableMeta, error) {
	switch p.Dialect.Driver() {
	case Postgres:
		return p.describeTablePostgres(ctx, table)
	case SQLite:
		return p.describeTableSQLite(ctx, table)
	default:
		return &TableMeta{Name: table}, nil
	}
}

func (p *Pool) describeTablePostgres(ctx context.Context, table string) (*TableMeta, error) {
	query := `
		SELECT c.column_name, c.data_type, c.is_nullable = 'YES' AS nullable,
		       COALESCE(pk.is_pk, false) AS is_pk
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.column_name, true AS is_pk
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
			  ON tc.constraint_name = kcu.constraint_name
			WHERE tc.table_name = $1 AND tc.constraint_type = 'PRIMARY KEY'
		) pk ON pk.column_name = c.column_name
		WHERE c.table_name = $1
		ORDER BY c.ordinal_position`

	rows, err := p.DB.QueryxContext(ctx, query, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := &TableMeta{Name: table}
	for rows.Next() {
		var col ColumnMeta
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.PrimaryKey); err != nil {
			return nil, err
		}
		meta.Columns = append(meta.Columns, col)
	}
	return meta, rows.Err()
}

func (p *Pool) describeTableSQLite(ctx context.Context, table string) (*TableMeta, error) {
	rows, err := p.DB.QueryxContext(ctx, "PRAGMA table_info("+p.Dialect.QuoteIdent(table)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := &TableMeta{Name: table}
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		meta.Columns = append(meta.Columns, ColumnMeta{
			Name:       name,
			Type:       colType,
			Nullable:   notNull == 0,
			PrimaryKey: pk > 0,
		})
	}
	return meta, rows.Err()
}

// HasTable reports whether the describe call found at least one column.
// A missing table and an existing table with zero columns both report
// false.
func (m *TableMeta) HasTable() bool {
	return m != nil && len(m.Columns) > 0
}
