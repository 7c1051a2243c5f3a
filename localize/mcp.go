package localize

import (
	"context"
	"encoding/json"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tickmd/tickmd/kit"
)

// RegisterMCP registers localization tools on an MCP server.
func (p *Pipeline) RegisterMCP(srv *mcp.Server) {
	p.registerLocalizeTool(srv)
	p.registerScanTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- localize ---

type localizeReq struct {
	Dir string `json:"dir"`
}

func (p *Pipeline) registerLocalizeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tickmd_localize",
		Description: "Download remote images referenced by the .md files in a directory and rewrite the references to local relative paths.",
		InputSchema: inputSchema(map[string]any{
			"dir": map[string]any{"type": "string", "description": "Directory holding .md files"},
		}, []string{"dir"}),
	}

	endpoint := kit.Logging(p.cfg.Logger, tool.Name)(func(ctx context.Context, req any) (any, error) {
		r := req.(*localizeReq)
		res, err := p.ProcessDir(ctx, r.Dir)
		if err != nil {
			return nil, err
		}
		failures := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			failures = append(failures, e.Error())
		}

		type docCounts struct {
			Rewritten  bool `json:"rewritten"`
			Found      int  `json:"found"`
			Downloaded int  `json:"downloaded"`
			Skipped    int  `json:"skipped"`
			Failed     int  `json:"failed"`
		}
		perDoc := make(map[string]docCounts, len(res.Documents))
		for name, doc := range res.Documents {
			perDoc[name] = docCounts{
				Rewritten:  doc.Rewritten,
				Found:      doc.Found,
				Downloaded: doc.Downloaded,
				Skipped:    doc.Skipped,
				Failed:     doc.Failed,
			}
		}

		return map[string]any{
			"documents":  len(res.Documents),
			"rewritten":  res.Rewritten,
			"found":      res.Found,
			"downloaded": res.Downloaded,
			"skipped":    res.Skipped,
			"failed":     res.Failed,
			"failures":   failures,
			"results":    perDoc,
		}, nil
	})

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r localizeReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- scan ---

type scanReq struct {
	Path string `json:"path"`
}

func (p *Pipeline) registerScanTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tickmd_scan",
		Description: "List the image references in a Markdown file without downloading anything.",
		InputSchema: inputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "Markdown file to scan"},
		}, []string{"path"}),
	}

	endpoint := kit.Logging(p.cfg.Logger, tool.Name)(func(_ context.Context, req any) (any, error) {
		r := req.(*scanReq)
		data, err := os.ReadFile(r.Path)
		if err != nil {
			return nil, err
		}

		type refInfo struct {
			Alt     string `json:"alt"`
			URL     string `json:"url"`
			Remote  bool   `json:"remote"`
			Private bool   `json:"private"`
		}
		refs := p.Scan(string(data))
		out := make([]refInfo, 0, len(refs))
		for _, ref := range refs {
			out = append(out, refInfo{
				Alt:     ref.AltText,
				URL:     ref.URL,
				Remote:  ref.Remote(),
				Private: ref.PrivateOrigin,
			})
		}
		return map[string]any{"references": out}, nil
	})

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r scanReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
