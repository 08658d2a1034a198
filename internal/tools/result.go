package tools

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/browsr/internal/browser"
)

// StateResponse is the JSON envelope every browser tool returns.
type StateResponse struct {
	URL     string            `json:"url"`
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Tab     *browser.TabInfo  `json:"tab,omitempty"`
	Tabs    []browser.TabInfo `json:"tabs,omitempty"`
}

func marshalResponse(resp StateResponse) string {
	b, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		// Only the URL and message are free text; both always marshal.
		return fmt.Sprintf(`{"url":%q,"success":%t}`, resp.URL, resp.Success)
	}
	return string(b)
}

// stateResult renders a successful action: the envelope plus the screenshot.
func stateResult(obs *browser.Observation, resp StateResponse) *mcp.CallToolResult {
	resp.URL = obs.URL
	resp.Success = true
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: marshalResponse(resp)},
			&mcp.ImageContent{Data: obs.Screenshot, MIMEType: "image/png"},
		},
	}
}

// errorResult renders a failed action without a screenshot.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: marshalResponse(StateResponse{Message: msg})},
		},
		IsError: true,
	}
}

func failure(action string, err error) *mcp.CallToolResult {
	return errorResult(fmt.Sprintf("Failed to %s: %v", action, err))
}
