package routing

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apifyhost/apify/pipeline"
	"github.com/apifyhost/apify/schemagen"
)

func buildTable(t *testing.T, seq int64, register func(b *Builder)) *RoutingTable {
	t.Helper()
	table := New()
	b := NewBuilder(seq)
	register(b)
	table.Swap(b)
	return table
}

func TestMatch_ExactPath(t *testing.T) {
	table := buildTable(t, 1, func(b *Builder) {
		b.Register("listener-1", schemagen.OperationBinding{
			Method: http.MethodGet, PathTemplate: "/items", Action: schemagen.ActionList, TargetTable: "items",
		}, pipeline.ConfigSet{}, "api-1", "ds-1")
	})

	res := table.Match("listener-1", http.MethodGet, "/items")
	require.NotNil(t, res.Binding)
	assert.True(t, res.PathExists)
	assert.Equal(t, "items", res.Binding.TargetTable)
	assert.Equal(t, "api-1", res.APIID)
	assert.Equal(t, "ds-1", res.DatasourceName)
}

func TestMatch_PathParamExtraction(t *testing.T) {
	table := buildTable(t, 1, func(b *Builder) {
		b.Register("listener-1", schemagen.OperationBinding{
			Method: http.MethodGet, PathTemplate: "/items/{id}", Action: schemagen.ActionGet, TargetTable: "items",
		}, pipeline.ConfigSet{}, "api-1", "ds-1")
	})

	res := table.Match("listener-1", http.MethodGet, "/items/42")
	require.NotNil(t, res.Binding)
	assert.Equal(t, "42", res.PathParams["id"])
}

func TestMatch_UnknownListenerMisses(t *testing.T) {
	table := buildTable(t, 1, func(b *Builder) {
		b.Register("listener-1", schemagen.OperationBinding{Method: http.MethodGet, PathTemplate: "/items"}, pipeline.ConfigSet{}, "api-1", "ds-1")
	})

	res := table.Match("listener-unknown", http.MethodGet, "/items")
	assert.Nil(t, res.Binding)
	assert.False(t, res.PathExists)
}

func TestMatch_UnknownPathIs404(t *testing.T) {
	table := buildTable(t, 1, func(b *Builder) {
		b.Register("listener-1", schemagen.OperationBinding{Method: http.MethodGet, PathTemplate: "/items"}, pipeline.ConfigSet{}, "api-1", "ds-1")
	})

	res := table.Match("listener-1", http.MethodGet, "/unknown")
	assert.Nil(t, res.Binding)
	assert.False(t, res.PathExists)
}

func TestMatch_WrongMethodIs405WithAllowedMethods(t *testing.T) {
	table := buildTable(t, 1, func(b *Builder) {
		b.Register("listener-1", schemagen.OperationBinding{Method: http.MethodGet, PathTemplate: "/items"}, pipeline.ConfigSet{}, "api-1", "ds-1")
		b.Register("listener-1", schemagen.OperationBinding{Method: http.MethodPost, PathTemplate: "/items"}, pipeline.ConfigSet{}, "api-1", "ds-1")
	})

	res := table.Match("listener-1", http.MethodDelete, "/items")
	assert.Nil(t, res.Binding)
	assert.True(t, res.PathExists, "path exists, only the method is disallowed")
	assert.ElementsMatch(t, []string{http.MethodGet, http.MethodPost}, res.AllowedMethods)
}

func TestMatch_LongestLiteralPathWinsOverParam(t *testing.T) {
	table := buildTable(t, 1, func(b *Builder) {
		b.Register("listener-1", schemagen.OperationBinding{
			Method: http.MethodGet, PathTemplate: "/items/{id}", Action: schemagen.ActionGet, TargetTable: "items",
		}, pipeline.ConfigSet{}, "api-1", "ds-1")
		b.Register("listener-1", schemagen.OperationBinding{
			Method: http.MethodGet, PathTemplate: "/items/query", Action: schemagen.ActionCustom, TargetTable: "items",
		}, pipeline.ConfigSet{}, "api-1", "ds-1")
	})

	res := table.Match("listener-1", http.MethodGet, "/items/query")
	require.NotNil(t, res.Binding)
	assert.Equal(t, schemagen.ActionCustom, res.Binding.Action, "a literal segment must win over a path-param sibling")
	assert.Empty(t, res.PathParams)
}

func TestSwap_PublishesNewGenerationAtomically(t *testing.T) {
	table := New()
	assert.Equal(t, int64(0), table.Generation())

	b1 := NewBuilder(1)
	b1.Register("listener-1", schemagen.OperationBinding{Method: http.MethodGet, PathTemplate: "/v1"}, pipeline.ConfigSet{}, "api-1", "ds-1")
	table.Swap(b1)
	assert.Equal(t, int64(1), table.Generation())
	res := table.Match("listener-1", http.MethodGet, "/v1")
	require.NotNil(t, res.Binding)

	b2 := NewBuilder(2)
	b2.Register("listener-1", schemagen.OperationBinding{Method: http.MethodGet, PathTemplate: "/v2"}, pipeline.ConfigSet{}, "api-1", "ds-1")
	table.Swap(b2)
	assert.Equal(t, int64(2), table.Generation())

	assert.False(t, table.Match("listener-1", http.MethodGet, "/v1").PathExists, "old generation's routes must no longer be visible")
	res = table.Match("listener-1", http.MethodGet, "/v2")
	require.NotNil(t, res.Binding)
}
