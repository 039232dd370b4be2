package nest

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/cmsnest/kit"
)

// RegisterMCP registers the nest tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerComposeTool(srv)
	s.registerScanTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sc["required"] = required
	}
	return sc
}

func (s *Service) registerComposeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "nest_compose",
		Description: "Compose a page: fetch every same-origin nest item link and move its " +
			"target fragments into the item's dropzones. Returns the composed document and a per-item report.",
		InputSchema: inputSchema(map[string]any{
			"page_url": map[string]any{"type": "string", "description": "Absolute URL of the host page"},
			"html":     map[string]any{"type": "string", "description": "Host page markup; fetched from page_url when omitted"},
			"format":   map[string]any{"type": "string", "enum": []string{"html", "markdown"}, "description": "Output format (default html)"},
		}, []string{"page_url"}),
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r ComposeRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.compose, decode)
}

func (s *Service) registerScanTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "nest_scan",
		Description: "List the nest items of a page and whether each would be fetched or skipped, without issuing any request.",
		InputSchema: inputSchema(map[string]any{
			"page_url": map[string]any{"type": "string", "description": "Absolute URL the markup was served from"},
			"html":     map[string]any{"type": "string", "description": "Host page markup"},
		}, []string{"page_url", "html"}),
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r ScanRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.scan, decode)
}
