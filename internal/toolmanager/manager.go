// Package toolmanager implements the Tool Manager (C3, spec.md §4.3): a
// per-conversation directory of tool-client connections, built once per
// ActiveConversation and never shared across conversations. The directory shape
// (name-keyed map guarded by sync.RWMutex, Register/Get/List) is grounded on the
// teacher's internal/tools/registry.go, generalized from in-process Tool
// implementations to remote toolclient.Client connections.
package toolmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/frevagpt/orchestrator/internal/logger"
	"github.com/frevagpt/orchestrator/internal/toolclient"
)

// ServerConfig names one configured tool server (spec.md §6:
// FREVAGPT_AVAILABLE_MCP_SERVERS / FREVAGPT_<NAME>_SERVER_URL).
type ServerConfig struct {
	Name    string
	BaseURL string
}

// FunctionTool is the OpenAI-compatible tool schema the orchestrator passes as
// `tools` on a completion request (spec.md §4.3 tool_catalogue).
type FunctionTool struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

type FunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Manager is the per-conversation directory of tool clients. A Manager instance
// is owned exclusively by one ActiveConversation (spec.md §9 "Cyclic references");
// it is never shared between conversations.
type Manager struct {
	log     *logger.Logger
	servers []ServerConfig

	mu        sync.RWMutex
	clients   map[string]*toolclient.Client // server name -> client
	toolIndex map[string]string             // tool name -> server name
	catalogue []FunctionTool
}

// New builds a Manager bound to the given set of configured tool servers.
// Clients are not constructed until Initialize connects them.
func New(servers []ServerConfig, log *logger.Logger) *Manager {
	return &Manager{
		log:       log,
		servers:   servers,
		clients:   make(map[string]*toolclient.Client, len(servers)),
		toolIndex: make(map[string]string),
	}
}

// Initialize connects to every configured server, discovers its tools, and
// builds the cached catalogue and name->server routing index (spec.md §4.3).
// A single server failing to connect does not abort discovery for the others;
// it is logged and skipped. An error is returned only when servers are
// configured and none of them could be initialized, which is what lets the
// registry leave the conversation without a tool manager.
func (m *Manager) Initialize(ctx context.Context, headers map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	catalogue := make([]FunctionTool, 0)
	toolIndex := make(map[string]string)

	for _, server := range m.servers {
		client := toolclient.New(server.BaseURL, nil, headers)
		if _, err := client.Initialize(ctx, "frevagpt-orchestrator", "1.0", nil); err != nil {
			if m.log != nil {
				m.log.Warn("toolmanager: failed to initialize tool server", "server", server.Name, "error", err.Error())
			}
			continue
		}

		tools, err := client.ListTools(ctx, nil)
		if err != nil {
			if m.log != nil {
				m.log.Warn("toolmanager: failed to list tools", "server", server.Name, "error", err.Error())
			}
			continue
		}

		m.clients[server.Name] = client
		for _, tool := range tools {
			toolIndex[tool.Name] = server.Name
			catalogue = append(catalogue, FunctionTool{
				Type: "function",
				Function: FunctionSpec{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  tool.InputSchema,
				},
			})
		}
	}

	m.toolIndex = toolIndex
	m.catalogue = catalogue
	if len(m.servers) > 0 && len(m.clients) == 0 {
		return fmt.Errorf("toolmanager: none of the %d configured tool servers could be initialized", len(m.servers))
	}
	return nil
}

// ToolCatalogue returns the cached function-tool schemas for the LLM.
func (m *Manager) ToolCatalogue() []FunctionTool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.catalogue
}

// CallTool routes a tool invocation by server hint, falling back to the
// discovered name->server index, and finally to a best-effort sweep of every
// configured client (spec.md §4.3 call_tool).
func (m *Manager) CallTool(ctx context.Context, serverHint, name string, arguments map[string]interface{}, extraHeaders map[string]string) (json.RawMessage, error) {
	m.mu.RLock()
	client, ok := m.clients[serverHint]
	if !ok {
		if routed, found := m.toolIndex[name]; found {
			client, ok = m.clients[routed]
		}
	}
	fallbackClients := make([]*toolclient.Client, 0, len(m.clients))
	for _, c := range m.clients {
		fallbackClients = append(fallbackClients, c)
	}
	m.mu.RUnlock()

	if ok {
		return client.CallTool(ctx, name, arguments, extraHeaders)
	}

	var lastErr error
	for _, c := range fallbackClients {
		result, err := c.CallTool(ctx, name, arguments, extraHeaders)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("toolmanager: no tool server configured")
	}
	return nil, lastErr
}

// Close closes every underlying tool client's session. Tool servers are
// stateless over HTTP in this implementation (no persistent connection to tear
// down beyond the session id), so Close only forgets the local session state.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients = make(map[string]*toolclient.Client)
	m.toolIndex = make(map[string]string)
	m.catalogue = nil
}
