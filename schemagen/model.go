package schemagen

import (
	"encoding/json"
	"fmt"
)

// TableSchema is the derived table shape of one resource. It is not
// stored by admin directly — the catalog persists the owning API's raw
// OpenAPI document, and this struct is rebuilt by SchemaGenerator on
// every ingestion/reconcile.
type TableSchema struct {
	TableName string   `json:"tableName"`
	Columns   []Column `json:"columns"`
	Indexes   []string `json:"indexes,omitempty"`
}

// Column carries the per-column invariants: at most one primary key;
// autoIncrement implies primaryKey; autoField columns are never
// request-writable.
type Column struct {
	Name          string `json:"name"`
	ColumnType    string `json:"columnType"` // logical type, see dialect.ColumnDef
	Nullable      bool   `json:"nullable"`
	PrimaryKey    bool   `json:"primaryKey"`
	AutoIncrement bool   `json:"autoIncrement"`
	Unique        bool   `json:"unique"`
	DefaultValue  string `json:"defaultValue,omitempty"`
	AutoField     bool   `json:"autoField,omitempty"`
}

// UnmarshalJSON accepts both camelCase (canonical) and snake_case
// (backward-compatible alias) property names for x-table-schemas
// entries.
func (t *TableSchema) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	name := raw["tableName"]
	if name == nil {
		name = raw["table_name"]
	}
	if name != nil {
		if err := json.Unmarshal(name, &t.TableName); err != nil {
			return err
		}
	}
	if cols := raw["columns"]; cols != nil {
		if err := json.Unmarshal(cols, &t.Columns); err != nil {
			return err
		}
	}
	if idx := raw["indexes"]; idx != nil {
		if err := json.Unmarshal(idx, &t.Indexes); err != nil {
			return err
		}
	}
	return nil
}

func (c *Column) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	get := func(names ...string) json.RawMessage {
		for _, n := range names {
			if v, ok := raw[n]; ok {
				return v
			}
		}
		return nil
	}

	type alias Column
	var a alias
	if v := get("name"); v != nil {
		json.Unmarshal(v, &a.Name)
	}
	if v := get("columnType", "column_type"); v != nil {
		json.Unmarshal(v, &a.ColumnType)
	}
	if v := get("nullable"); v != nil {
		json.Unmarshal(v, &a.Nullable)
	}
	if v := get("primaryKey", "primary_key"); v != nil {
		json.Unmarshal(v, &a.PrimaryKey)
	}
	if v := get("autoIncrement", "auto_increment"); v != nil {
		json.Unmarshal(v, &a.AutoIncrement)
	}
	if v := get("unique"); v != nil {
		json.Unmarshal(v, &a.Unique)
	}
	if v := get("defaultValue", "default_value"); v != nil {
		json.Unmarshal(v, &a.DefaultValue)
	}
	if v := get("autoField", "auto_field"); v != nil {
		json.Unmarshal(v, &a.AutoField)
	}
	*c = Column(a)
	return nil
}

// Validate enforces the Column/TableSchema invariants.
func (t TableSchema) Validate() error {
	var pkCount int
	for _, col := range t.Columns {
		if col.PrimaryKey {
			pkCount++
		}
		if col.AutoIncrement && !col.PrimaryKey {
			return fmt.Errorf("schemagen: table %s: column %s is autoIncrement but not primaryKey", t.TableName, col.Name)
		}
	}
	if pkCount > 1 {
		return fmt.Errorf("schemagen: table %s: more than one primary key column", t.TableName)
	}
	return nil
}

// RelationType enumerates the supported relation kinds.
type RelationType string

const (
	HasMany   RelationType = "hasMany"
	HasOne    RelationType = "hasOne"
	BelongsTo RelationType = "belongsTo"
)

// RelationDefinition is a typed link between two tables, materialized
// from x-relation.
type RelationDefinition struct {
	ParentTable string
	ChildTable  string
	FieldName   string
	Type        RelationType
	ForeignKey  string
	LocalKey    string // defaults to "id"
}

// Action enumerates the CRUD actions an OperationBinding may perform.
type Action string

const (
	ActionList   Action = "list"
	ActionGet    Action = "get"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionCustom Action = "custom"
)

// OperationBinding is the compiled mapping
// from (method, path) to a CRUD action against a table.
type OperationBinding struct {
	Method               string
	PathTemplate         string
	Action               Action
	TargetTable          string
	SecurityRequirements []SecurityRequirement
	RequestSchema        *Schema
	ResponseSchema       *Schema
	Parameters           []Parameter
	// Modules carries the operation's raw x-modules entries for the
	// pipeline's per-name config merge; the data plane decodes each
	// named entry into its module's settings struct.
	Modules map[string]json.RawMessage
}
