package schemagen

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/apifyhost/apify/dialect"
)

// Generator consumes one OpenAPI document and yields the TableSchema,
// RelationDefinition, and OperationBinding sets; the migration plan
// comes from PlanMigration. One Generator is constructed per ingestion/reconcile
// cycle; it holds no state across documents.
type Generator struct {
	Document      *Document
	DatasourceName string
	Logger        zerolog.Logger

	tables       map[string]*TableSchema
	relations    []RelationDefinition
	bindings     []OperationBinding
	// referencedOnly tracks schemas only ever seen nested inside another
	// schema's properties, so table collection can skip them.
	referencedOnly map[string]bool
}

// Result is the full output of one generation pass.
type Result struct {
	Tables    []TableSchema
	Relations []RelationDefinition
	Bindings  []OperationBinding
}

// Generate runs table collection, relation discovery, and operation
// binding, and returns their output. Parsing failures abort ingestion
// of this API only; callers surface the error to the admin caller
// without touching previously loaded APIs.
func (g *Generator) Generate() (*Result, error) {
	g.tables = make(map[string]*TableSchema)
	g.referencedOnly = make(map[string]bool)

	if err := g.collectTableSchemas(); err != nil {
		return nil, fmt.Errorf("schemagen: table collection: %w", err)
	}
	if err := g.discoverRelations(); err != nil {
		return nil, fmt.Errorf("schemagen: relation discovery: %w", err)
	}
	if err := g.bindOperations(); err != nil {
		return nil, fmt.Errorf("schemagen: operation binding: %w", err)
	}

	tables := make([]TableSchema, 0, len(g.tables))
	for _, t := range g.tables {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		tables = append(tables, *t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].TableName < tables[j].TableName })

	g.Logger.Info().
		Str("datasource", g.DatasourceName).
		Int("tables", len(tables)).
		Int("relations", len(g.relations)).
		Int("bindings", len(g.bindings)).
		Msg("schema generation complete")

	return &Result{Tables: tables, Relations: g.relations, Bindings: g.bindings}, nil
}

// collectTableSchemas gathers x-table-schemas entries, or infers one
// table per non-nested components.schemas entry.
func (g *Generator) collectTableSchemas() error {
	if len(g.Document.TableSchemas) > 0 {
		for i := range g.Document.TableSchemas {
			t := g.Document.TableSchemas[i]
			g.tables[t.TableName] = &t
		}
		return nil
	}

	// Mark every schema referenced only as a nested property of another
	// schema so it is excluded from table inference.
	for _, schema := range g.Document.Components.Schemas {
		for _, prop := range schema.Properties {
			if prop.Relation != nil {
				// An x-relation target is a table in its own right.
				continue
			}
			if ref := refTarget(prop); ref != "" {
				g.referencedOnly[ref] = true
			}
			if prop.Items != nil {
				if ref := refTarget(prop.Items); ref != "" {
					g.referencedOnly[ref] = true
				}
			}
		}
	}

	names := make([]string, 0, len(g.Document.Components.Schemas))
	for name := range g.Document.Components.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if g.referencedOnly[name] {
			continue
		}
		schema := g.Document.Components.Schemas[name]
		table := inferTableSchema(tableNameFromSchema(name), schema)
		g.tables[table.TableName] = table
	}
	return nil
}

func refTarget(s *Schema) string {
	if s == nil || s.Ref == "" {
		return ""
	}
	parts := strings.Split(s.Ref, "/")
	return parts[len(parts)-1]
}

// inferTableSchema applies the column-inference rules to one schema.
func inferTableSchema(tableName string, schema *Schema) *TableSchema {
	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	var columns []Column
	for _, name := range names {
		prop := schema.Properties[name]
		if prop.Relation != nil {
			// Relations are materialized in Step 2, not as columns here,
			// unless the relation also needs an implicit FK column (added
			// later in discoverRelations).
			continue
		}
		columns = append(columns, inferColumn(name, prop, required[name]))
	}
	return &TableSchema{TableName: tableName, Columns: columns}
}

func inferColumn(name string, prop *Schema, isRequired bool) Column {
	col := Column{Name: name}

	switch {
	case name == "id":
		col.ColumnType = "INTEGER"
		col.PrimaryKey = true
		col.AutoIncrement = true
		col.AutoField = true
		col.Nullable = false
		return col
	case name == "createdBy" || name == "updatedBy":
		col.ColumnType = "TEXT"
		col.AutoField = true
	case name == "createdAt" || name == "updatedAt":
		col.ColumnType = "DATETIME"
		col.AutoField = true
		col.DefaultValue = "CURRENT_TIMESTAMP"
	default:
		col.ColumnType = jsonTypeToColumnType(prop)
	}

	if prop.ReadOnly {
		col.AutoField = true
	}
	if prop.MinLength != nil || prop.MaxLength != nil {
		if strings.EqualFold(col.ColumnType, "TEXT") && prop.MaxLength != nil {
			col.ColumnType = fmt.Sprintf("VARCHAR(%d)", *prop.MaxLength)
		}
	}

	// nullable defaults to true unless the property is required.
	col.Nullable = !isRequired
	return col
}

func jsonTypeToColumnType(prop *Schema) string {
	switch prop.Type {
	case "integer":
		return "INTEGER"
	case "number":
		return "NUMERIC"
	case "boolean":
		return "BOOLEAN"
	case "string":
		if prop.Format == "date-time" {
			return "DATETIME"
		}
		return "TEXT"
	default:
		return "TEXT"
	}
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// tableNameFromSchema derives a table name from a components.schemas
// entry name. Pluralization is intentionally not attempted here — the
// schema name is used as-is, lowercased; callers that want plural table
// names should name their schemas that way.
func tableNameFromSchema(name string) string {
	return strings.ToLower(nonAlnum.ReplaceAllString(name, "_"))
}

// discoverRelations walks every x-relation property and resolves it
// into a RelationDefinition.
func (g *Generator) discoverRelations() error {
	for tableName, schema := range g.schemasByInferredTable() {
		for propName, prop := range schema.Properties {
			if prop.Relation == nil {
				continue
			}
			rel, err := g.resolveRelation(tableName, propName, prop)
			if err != nil {
				return err
			}
			g.relations = append(g.relations, rel)
		}
	}
	sort.Slice(g.relations, func(i, j int) bool {
		if g.relations[i].ParentTable != g.relations[j].ParentTable {
			return g.relations[i].ParentTable < g.relations[j].ParentTable
		}
		return g.relations[i].FieldName < g.relations[j].FieldName
	})
	return nil
}

// schemasByInferredTable re-associates each components.schemas entry
// with the table name it would produce, for relation resolution. When
// x-table-schemas was used directly there are no nested x-relation
// properties to walk (the schema already lists explicit columns), so
// this returns an empty map in that mode.
func (g *Generator) schemasByInferredTable() map[string]*Schema {
	out := make(map[string]*Schema)
	if len(g.Document.TableSchemas) > 0 {
		return out
	}
	for name, schema := range g.Document.Components.Schemas {
		if g.referencedOnly[name] {
			continue
		}
		out[tableNameFromSchema(name)] = schema
	}
	return out
}

func (g *Generator) resolveRelation(parentTable, fieldName string, prop *Schema) (RelationDefinition, error) {
	spec := prop.Relation
	childTable := tableNameFromSchema(spec.Target)
	localKey := spec.LocalKey
	if localKey == "" {
		localKey = "id"
	}

	rel := RelationDefinition{
		ParentTable: parentTable,
		ChildTable:  childTable,
		FieldName:   fieldName,
		Type:        RelationType(spec.Type),
		ForeignKey:  spec.ForeignKey,
		LocalKey:    localKey,
	}

	// Foreign key must exist on the appropriate side; add implicitly if
	// missing on an inferred table.
	switch rel.Type {
	case HasMany, HasOne:
		g.ensureColumn(childTable, rel.ForeignKey, "INTEGER")
	case BelongsTo:
		g.ensureColumn(parentTable, rel.ForeignKey, "INTEGER")
	default:
		return rel, fmt.Errorf("schemagen: unknown relation type %q on %s.%s", spec.Type, parentTable, fieldName)
	}
	return rel, nil
}

func (g *Generator) ensureColumn(table, column, logicalType string) {
	t, ok := g.tables[table]
	if !ok {
		return
	}
	for _, c := range t.Columns {
		if c.Name == column {
			return
		}
	}
	t.Columns = append(t.Columns, Column{Name: column, ColumnType: logicalType, Nullable: true})
}

var idSegment = regexp.MustCompile(`\{[^}]+\}$`)

// bindOperations compiles every (path, method) pair into an
// OperationBinding.
func (g *Generator) bindOperations() error {
	paths := make([]string, 0, len(g.Document.Paths))
	for p := range g.Document.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		item := g.Document.Paths[path]
		for _, m := range item.Methods() {
			binding := g.bindOne(path, m.Method, m.Op)
			g.bindings = append(g.bindings, binding)
		}
	}
	return nil
}

func (g *Generator) bindOne(path, method string, op *Operation) OperationBinding {
	table := op.TableName
	if table == "" {
		table = tableNameFromPath(path)
		// Inferred names get a plural-to-singular fallback: /orders resolves
		// to an inferred "order" table when no "orders" table exists.
		// An explicit x-table-name is always taken verbatim.
		if _, ok := g.tables[table]; !ok {
			if singular := singularize(table); singular != table {
				if _, ok := g.tables[singular]; ok {
					table = singular
				}
			}
		}
	}

	action := Action(op.Action)
	if action == "" {
		action = inferAction(method, path)
	}

	if _, ok := g.tables[table]; !ok && action != ActionCustom {
		g.Logger.Warn().
			Str("method", method).
			Str("path", path).
			Str("table", table).
			Msg("operation targets an undeclared table; downgrading to custom action")
		action = ActionCustom
	}

	binding := OperationBinding{
		Method:       method,
		PathTemplate: path,
		Action:       action,
		TargetTable:  table,
		Parameters:   op.Parameters,
		Modules:      op.Modules,
	}
	if op.RequestBody != nil {
		for _, mt := range op.RequestBody.Content {
			binding.RequestSchema = mt.Schema
			break
		}
	}

	legacy := op.legacyAccess()
	switch {
	case len(op.Security) > 0:
		binding.SecurityRequirements = op.Security
	case len(g.Document.Security) > 0:
		binding.SecurityRequirements = g.Document.Security
	case len(legacy) > 0:
		reqs := make([]SecurityRequirement, len(legacy))
		for i, name := range legacy {
			reqs[i] = SecurityRequirement{name: nil}
		}
		binding.SecurityRequirements = reqs
	}

	return binding
}

// singularize applies the handful of English plural rules a path
// segment like "orders", "companies", or "boxes" needs to reach its
// schema-derived table name. Anything it cannot handle passes through
// unchanged and simply misses the fallback lookup.
func singularize(name string) string {
	switch {
	case strings.HasSuffix(name, "ies"):
		return strings.TrimSuffix(name, "ies") + "y"
	case strings.HasSuffix(name, "xes"), strings.HasSuffix(name, "ses"),
		strings.HasSuffix(name, "zes"), strings.HasSuffix(name, "ches"),
		strings.HasSuffix(name, "shes"):
		return strings.TrimSuffix(name, "es")
	case strings.HasSuffix(name, "s") && !strings.HasSuffix(name, "ss"):
		return strings.TrimSuffix(name, "s")
	}
	return name
}

// tableNameFromPath infers a table name from the last non-parameter path
// segment.
func tableNameFromPath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			continue
		}
		return seg
	}
	return ""
}

// inferAction maps a (method, path) shape to its CRUD action by
// convention.
func inferAction(method, path string) Action {
	hasID := idSegment.MatchString(path)
	switch method {
	case "GET":
		if hasID {
			return ActionGet
		}
		return ActionList
	case "POST":
		return ActionCreate
	case "PUT", "PATCH":
		if hasID {
			return ActionUpdate
		}
		return ActionCustom
	case "DELETE":
		if hasID {
			return ActionDelete
		}
		return ActionCustom
	default:
		return ActionCustom
	}
}

// Plan describes the DDL statements needed to bring a datasource's live
// schema in line with the derived TableSchema set.
type Plan struct {
	Statements []string
	Warnings   []string
}

// PlanMigration diffs tables against the live metadata of pool and
// returns the DDL needed to reconcile them. It never emits a destructive
// statement: missing columns are added, type mismatches are only
// logged as warnings, and columns present in the live table but absent
// from the derived schema are left untouched.
func PlanMigration(ctx context.Context, pool *dialect.Pool, tables []TableSchema) (*Plan, error) {
	plan := &Plan{}

	for _, table := range tables {
		live, err := pool.DescribeTable(ctx, table.TableName)
		if err != nil {
			return nil, fmt.Errorf("schemagen: describe %s: %w", table.TableName, err)
		}

		if !live.HasTable() {
			plan.Statements = append(plan.Statements, dialect.CreateTableSQL(pool.Dialect, table.TableName, toColumnDefs(table.Columns)))
			continue
		}

		liveCols := make(map[string]dialect.ColumnMeta, len(live.Columns))
		for _, c := range live.Columns {
			liveCols[c.Name] = c
		}

		for _, col := range table.Columns {
			liveCol, exists := liveCols[col.Name]
			if !exists {
				plan.Statements = append(plan.Statements, dialect.AddColumnSQL(pool.Dialect, table.TableName, toColumnDef(col)))
				continue
			}
			if !typesCompatible(liveCol.Type, col.ColumnType) {
				plan.Warnings = append(plan.Warnings, fmt.Sprintf(
					"%s.%s: live type %q differs from derived type %q; no automatic migration applied",
					table.TableName, col.Name, liveCol.Type, col.ColumnType))
			}
		}
	}
	return plan, nil
}

func toColumnDefs(cols []Column) []dialect.ColumnDef {
	out := make([]dialect.ColumnDef, len(cols))
	for i, c := range cols {
		out[i] = toColumnDef(c)
	}
	return out
}

func toColumnDef(c Column) dialect.ColumnDef {
	return dialect.ColumnDef{
		Name:          c.Name,
		LogicalType:   c.ColumnType,
		Nullable:      c.Nullable,
		PrimaryKey:    c.PrimaryKey,
		AutoIncrement: c.AutoIncrement,
		Unique:        c.Unique,
		Default:       c.DefaultValue,
	}
}

// typesCompatible is a loose, case-insensitive comparison used only to
// decide whether to surface a migration warning; it never blocks a
// migration.
func typesCompatible(liveType, derivedType string) bool {
	norm := func(s string) string {
		s = strings.ToUpper(s)
		if idx := strings.Index(s, "("); idx >= 0 {
			s = s[:idx]
		}
		return s
	}
	return norm(liveType) == norm(derivedType)
}
