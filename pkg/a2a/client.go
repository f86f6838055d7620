package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultConnectTimeout = 30 * time.Second

// Manager holds the peer agents discovered from configured URLs and
// sends messages to them.
type Manager struct {
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	peers map[string]peer
}

type peer struct {
	card Card
	url  string
}

func NewManager(httpClient *http.Client, logger *slog.Logger) *Manager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultConnectTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{httpClient: httpClient, logger: logger, peers: make(map[string]peer)}
}

// Discover fetches the agent card from each URL and records the peers
// that answer. Unreachable URLs are logged and skipped so one dead peer
// does not hide the rest.
func (m *Manager) Discover(ctx context.Context, urls []string) {
	for _, raw := range urls {
		base := strings.TrimRight(strings.TrimSpace(raw), "/")
		if base == "" {
			continue
		}
		card, err := m.fetchCard(ctx, base)
		if err != nil {
			m.logger.Warn("a2a discovery failed", "url", base, "error", err)
			continue
		}
		m.mu.Lock()
		m.peers[card.Name] = peer{card: card, url: base}
		m.mu.Unlock()
		m.logger.Info("a2a agent discovered", "agent", card.Name, "url", base)
	}
}

func (m *Manager) fetchCard(ctx context.Context, base string) (Card, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+WellKnownPath, nil)
	if err != nil {
		return Card{}, err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Card{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Card{}, fmt.Errorf("agent card fetch: status %d", resp.StatusCode)
	}
	var card Card
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return Card{}, fmt.Errorf("agent card decode: %w", err)
	}
	if card.Name == "" {
		return Card{}, fmt.Errorf("agent card has no name")
	}
	return card, nil
}

// Agents lists the discovered peers sorted by name.
func (m *Manager) Agents() []Card {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cards := make([]Card, 0, len(m.peers))
	for _, p := range m.peers {
		cards = append(cards, p.card)
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Name < cards[j].Name })
	return cards
}

// Send delivers one text message to a discovered peer and returns the
// text of the completed task's artifacts.
func (m *Manager) Send(ctx context.Context, agentName, message string) (string, error) {
	m.mu.RLock()
	p, ok := m.peers[agentName]
	m.mu.RUnlock()
	if !ok {
		cards := m.Agents()
		names := make([]string, 0, len(cards))
		for _, c := range cards {
			names = append(names, c.Name)
		}
		return "", fmt.Errorf("agent %q not found, available: %s", agentName, strings.Join(names, ", "))
	}

	params, err := json.Marshal(sendParams{Message: Message{
		Role:      "user",
		Parts:     []Part{{Type: "text", Text: message}},
		MessageID: uuid.NewString(),
		ContextID: uuid.NewString(),
	}})
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  methodMessageSend,
		Params:  params,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", agentName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return "", fmt.Errorf("send to %s: status %d: %s", agentName, resp.StatusCode, snippet)
	}

	var rpcResp struct {
		Result *Task     `json:"result"`
		Error  *rpcError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return "", fmt.Errorf("send to %s: decode: %w", agentName, err)
	}
	if rpcResp.Error != nil {
		return "", fmt.Errorf("send to %s: rpc error %d: %s", agentName, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if rpcResp.Result == nil {
		return "", fmt.Errorf("send to %s: empty result", agentName)
	}

	var out []string
	for _, artifact := range rpcResp.Result.Artifacts {
		if text := textOf(artifact.Parts); text != "" {
			out = append(out, text)
		}
	}
	return strings.Join(out, "\n"), nil
}
