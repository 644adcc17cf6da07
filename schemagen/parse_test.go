package schemagen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDocument_JSONWithSnakeCaseTableSchemas(t *testing.T) {
	raw := []byte(`{
	  "openapi": "3.0.3",
	  "info": {"title": "items-api", "version": "1.0.0"},
	  "x-table-schemas": [
	    {"table_name": "items", "columns": [
	      {"name": "id", "column_type": "INTEGER", "primary_key": true, "auto_increment": true},
	      {"name": "secret", "column_type": "TEXT", "auto_field": true}
	    ]}
	  ],
	  "paths": {}
	}`)

	doc, err := ParseDocument(raw)
	require.NoError(t, err)
	require.Len(t, doc.TableSchemas, 1)

	table := doc.TableSchemas[0]
	require.Equal(t, "items", table.TableName, "snake_case table_name must alias tableName")
	require.Len(t, table.Columns, 2)
	require.True(t, table.Columns[0].PrimaryKey)
	require.True(t, table.Columns[0].AutoIncrement)
	require.True(t, table.Columns[1].AutoField)
}

func TestParseDocument_YAML(t *testing.T) {
	raw := []byte(`
openapi: 3.0.3
info:
  title: items-api
  version: 1.0.0
x-table-schemas:
  - tableName: items
    columns:
      - name: id
        columnType: INTEGER
        primaryKey: true
        autoIncrement: true
paths:
  /items:
    get: {}
`)

	doc, err := ParseDocument(raw)
	require.NoError(t, err)
	require.Len(t, doc.TableSchemas, 1)
	require.Equal(t, "items", doc.TableSchemas[0].TableName)
	require.Contains(t, doc.Paths, "/items")
	require.NotNil(t, doc.Paths["/items"].Get)
}

func TestParseDocument_GarbageErrors(t *testing.T) {
	_, err := ParseDocument([]byte("\x00not a document"))
	require.Error(t, err)
}
