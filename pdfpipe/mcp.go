// CLAUDE:SUMMARY Exposes the conversion pipeline as MCP tools returning base64 PDFs.
package pdfpipe

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/printpipe/kit"
)

// RegisterMCP registers conversion tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerConvertTool(srv)
	s.registerStatusTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

// --- convert ---

type convertReq struct {
	HTML    string `json:"html"`
	BaseURL string `json:"base_url,omitempty"`
}

type convertResp struct {
	PDF             string `json:"pdf_base64"`
	ImagesConverted int    `json:"images_converted"`
	ImagesFailed    int    `json:"images_failed"`
	Notes           int    `json:"notes"`
}

func (s *Service) registerConvertTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "printpipe_convert",
		Description: "Convert an HTML document to PDF. SVG and Visio images are rasterized; sticky-note markup becomes native PDF annotations.",
		InputSchema: inputSchema(map[string]any{
			"html":     map[string]any{"type": "string", "description": "HTML document or fragment"},
			"base_url": map[string]any{"type": "string", "description": "Base URL for relative resource links"},
		}, []string{"html"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*convertReq)
		res, err := s.Convert(ctx, Request{HTML: r.HTML, BaseURL: r.BaseURL})
		if err != nil {
			return nil, err
		}
		return &convertResp{
			PDF:             base64.StdEncoding.EncodeToString(res.PDF),
			ImagesConverted: res.Images.Converted,
			ImagesFailed:    res.Images.Failed,
			Notes:           res.Notes,
		}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r convertReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- status ---

func (s *Service) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "printpipe_status",
		Description: "Report recent conversion outcomes.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max events to return (default 20)"},
		}, nil),
	}

	type statusReq struct {
		Limit int `json:"limit,omitempty"`
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*statusReq)
		limit := r.Limit
		if limit <= 0 {
			limit = 20
		}
		if s.events == nil {
			return map[string]any{"events": []any{}}, nil
		}
		events, err := s.events.Recent(ctx, "", limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"events": events}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r statusReq
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
