package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
)

// Client wraps one running MCP server process bound to a single user.
type Client struct {
	server string
	cli    *client.Client
	tools  []mcp.Tool
}

func (c *Client) Server() string    { return c.server }
func (c *Client) Tools() []mcp.Tool { return c.tools }

// CallTool invokes a tool on the server and returns its text content.
// A tool-level error (IsError) comes back as a Go error carrying the text.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.cli.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call %s: %w", name, err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		switch content := content.(type) {
		case mcp.TextContent:
			sb.WriteString(content.Text)
		default:
			sb.WriteString("[non-text content]")
		}
	}
	if result.IsError {
		return "", errors.New(sb.String())
	}
	return sb.String(), nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Manager spawns MCP server processes from a catalog.
type Manager struct {
	catalog map[string]ServerConfig
	logger  *slog.Logger
}

func NewManager(catalog map[string]ServerConfig, logger *slog.Logger) *Manager {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{catalog: catalog, logger: logger}
}

// ServerNames returns the catalog's server names in stable order.
func (m *Manager) ServerNames() []string {
	names := make([]string, 0, len(m.catalog))
	for name := range m.catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connect launches the named server for one user, initializes the MCP
// session, and lists its tools. The server process inherits this process's
// environment plus the user-specific variables.
func (m *Manager) Connect(ctx context.Context, name string, user UserEnv) (*Client, error) {
	cfg, ok := m.catalog[name]
	if !ok {
		return nil, fmt.Errorf("unknown mcp server %q", name)
	}

	env := append(os.Environ(), cfg.envFor(user)...)
	cli, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.connectTimeout())
	defer cancel()

	if err := cli.Start(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	if _, err := cli.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		cli.Close()
		return nil, fmt.Errorf("initialize %s: %w", name, err)
	}

	list, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("list %s tools: %w", name, err)
	}

	m.logger.Debug("mcp server connected", "server", name, "user_id", user.UserID, "tools", len(list.Tools))
	return &Client{server: name, cli: cli, tools: list.Tools}, nil
}

// ConnectAll brings up every catalog server for a user in parallel. A server
// that fails to start is logged and skipped so one broken integration does
// not take down the session.
func (m *Manager) ConnectAll(ctx context.Context, user UserEnv) []*Client {
	var mu sync.Mutex
	var clients []*Client

	var wg errgroup.Group
	for _, name := range m.ServerNames() {
		wg.Go(func() error {
			c, err := m.Connect(ctx, name, user)
			if err != nil {
				m.logger.Warn("mcp server unavailable", "server", name, "user_id", user.UserID, "error", err)
				return nil
			}
			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
			return nil
		})
	}
	_ = wg.Wait()

	sort.Slice(clients, func(i, j int) bool { return clients[i].server < clients[j].server })
	return clients
}

// CloseAll closes a set of clients, logging close failures.
func (m *Manager) CloseAll(clients []*Client) {
	for _, c := range clients {
		if err := c.Close(); err != nil {
			m.logger.Warn("mcp client close failed", "server", c.server, "error", err)
		}
	}
}
