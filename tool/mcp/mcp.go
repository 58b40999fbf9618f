// Package mcp connects to Model Context Protocol servers over stdio and
// exposes their tools to the agent's registry.
package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentive-dev/agentive/errors"
	"github.com/agentive-dev/agentive/log"
	"github.com/agentive-dev/agentive/tool"
)

// Client manages the connection to a single MCP server subprocess and
// the tools it advertises.
type Client struct {
	Name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	tools []tool.Tool
}

// Connect starts the server subprocess, performs the MCP handshake and
// discovers its tools, paging through the full list.
func Connect(ctx context.Context, name, command string, args []string) (*Client, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "agentive", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		cmd.Process.Kill()
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	c := &Client{Name: name, cmd: cmd, conn: conn}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			cmd.Process.Kill()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range list.Tools {
			c.tools = append(c.tools, c.wrap(t))
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	log.Infof("connected to MCP server %q with %d tool(s)", name, len(c.tools))
	return c, nil
}

// wrap adapts one advertised MCP tool into the registry's Tool shape.
// Calls proxy through the session; text content blocks concatenate into
// the result.
func (c *Client) wrap(t *mcpsdk.Tool) tool.Tool {
	name := t.Name
	return tool.Tool{
		Name:        name,
		Description: t.Description,
		Parameters:  schemaMap(t.InputSchema),
		// Server-side tools act on the outside world, so they go through
		// the same approval gate as the builtin command tool.
		RequiresApproval: true,
		Handler: func(ctx context.Context, args map[string]any) (*tool.Result, error) {
			result, err := c.conn.CallTool(ctx, &mcpsdk.CallToolParams{
				Name:      name,
				Arguments: args,
			})
			if err != nil {
				return nil, errors.Wrapf(err, "failed to call tool '%s'", name)
			}
			var out string
			for _, content := range result.Content {
				if text, ok := content.(*mcpsdk.TextContent); ok {
					out += text.Text
				}
			}
			return &tool.Result{Content: out}, nil
		},
	}
}

// schemaMap converts the server's input schema into the plain map the
// registry's declarations carry. A nil or unmarshalable schema yields
// nil, and the registry substitutes its default.
func schemaMap(s *jsonschema.Schema) map[string]any {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// Tools returns the discovered tools in advertisement order.
func (c *Client) Tools() []tool.Tool {
	return c.tools
}

// Close terminates the MCP server subprocess.
func (c *Client) Close() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		log.Infof("terminating MCP server %q", c.Name)
		return c.cmd.Process.Kill()
	}
	return nil
}
