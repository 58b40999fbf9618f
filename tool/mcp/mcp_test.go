package mcp

import (
	"encoding/json"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentive-dev/agentive/tool"
)

// A wrapped server tool must carry the schema the server advertised,
// not the registry's empty default.
func TestWrapCarriesInputSchema(t *testing.T) {
	raw := `{
		"name": "fetch_page",
		"description": "Fetch a web page",
		"inputSchema": {
			"type": "object",
			"properties": {"url": {"type": "string"}},
			"required": ["url"]
		}
	}`
	var advertised mcpsdk.Tool
	require.NoError(t, json.Unmarshal([]byte(raw), &advertised))

	c := &Client{Name: "web"}
	wrapped := c.wrap(&advertised)

	assert.Equal(t, "fetch_page", wrapped.Name)
	assert.True(t, wrapped.RequiresApproval)
	require.NotNil(t, wrapped.Parameters)
	assert.Equal(t, "object", wrapped.Parameters["type"])
	props, ok := wrapped.Parameters["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "url")

	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(wrapped))
	defs := registry.Declarations()
	require.Len(t, defs, 1)
	props, ok = defs[0].Parameters["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "url")
}

func TestWrapNilSchemaFallsBackToDefault(t *testing.T) {
	c := &Client{Name: "web"}
	wrapped := c.wrap(&mcpsdk.Tool{Name: "ping"})
	assert.Nil(t, wrapped.Parameters)

	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(wrapped))
	defs := registry.Declarations()
	require.Len(t, defs, 1)
	assert.Equal(t, "object", defs[0].Parameters["type"])
}
