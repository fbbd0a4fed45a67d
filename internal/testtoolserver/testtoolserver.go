// Package testtoolserver provides an in-process fake MCP tool server for C2
// (internal/toolclient) and C3 (internal/toolmanager) integration tests.
// Grounded on the teacher's internal/mcp/service.go + handlers.go
// (server.NewMCPServer / mcp.NewToolWithRawSchema / mcpServer.AddTool /
// server.NewStreamableHTTPServer), with the teacher's Perplexity/Replicate
// tools replaced by a toy code_interpreter that actually evaluates trivial
// arithmetic so C5/C6 integration tests exercise a real round trip instead
// of a hand-built JSON fixture.
package testtoolserver

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const codeInterpreterSchema = `{
	"type": "object",
	"properties": {
		"code": {
			"type": "string",
			"description": "Python-like source; only print(<int> <op> <int>) forms are understood."
		}
	},
	"required": ["code"]
}`

// New builds and starts an httptest.Server exposing a code_interpreter tool
// at /mcp over the MCP streamable-HTTP transport. Callers must call
// srv.Close() when done.
func New() *httptest.Server {
	mcpServer := server.NewMCPServer("frevagpt-test-tool-server", "1.0.0")

	tool := mcp.NewToolWithRawSchema(
		"code_interpreter",
		"Evaluates a trivial print(<integer expression>) snippet and returns its stdout.",
		[]byte(codeInterpreterSchema),
	)

	mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Code string `json:"code"`
		}
		if err := request.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to bind arguments: %v", err)), nil
		}

		stdout, evalErr := evalToyPrint(args.Code)
		if evalErr != nil {
			return mcp.NewToolResultError(evalErr.Error()), nil
		}
		return mcp.NewToolResultText(stdout), nil
	})

	httpServer := server.NewStreamableHTTPServer(mcpServer, server.WithStateLess(true))
	return httptest.NewServer(httpServer)
}

// evalToyPrint understands exactly `print(<int> <op> <int>)` and `print(<int>)`,
// enough to exercise C5's tool-call round trip without embedding a real
// interpreter in test infrastructure.
func evalToyPrint(code string) (string, error) {
	code = strings.TrimSpace(code)
	inner := strings.TrimSuffix(strings.TrimPrefix(code, "print("), ")")
	inner = strings.TrimSpace(inner)

	for _, op := range []string{"+", "-", "*"} {
		if idx := strings.Index(inner, op); idx > 0 {
			left, err1 := strconv.Atoi(strings.TrimSpace(inner[:idx]))
			right, err2 := strconv.Atoi(strings.TrimSpace(inner[idx+1:]))
			if err1 == nil && err2 == nil {
				var result int
				switch op {
				case "+":
					result = left + right
				case "-":
					result = left - right
				case "*":
					result = left * right
				}
				return strconv.Itoa(result) + "\n", nil
			}
		}
	}

	if n, err := strconv.Atoi(inner); err == nil {
		return strconv.Itoa(n) + "\n", nil
	}

	return "", fmt.Errorf("testtoolserver: cannot evaluate %q", code)
}
