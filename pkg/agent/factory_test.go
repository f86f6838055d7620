package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/lumenlabs/lumen/pkg/a2a"
	"github.com/lumenlabs/lumen/pkg/agent/mcp"
	"github.com/lumenlabs/lumen/pkg/artifacts"
	"github.com/lumenlabs/lumen/pkg/memory"
	"github.com/lumenlabs/lumen/pkg/users"
	"google.golang.org/genai"
)

func newTestFactory(t *testing.T) (*Factory, *fakeSession) {
	t.Helper()
	store, err := artifacts.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	fs := newFakeSession()
	return &Factory{
		Connect: func(context.Context, string, *genai.LiveConnectConfig) (LiveSession, error) {
			return fs, nil
		},
		Memory:    memory.NewClient("", "", nil),
		Artifacts: artifacts.NewRegistry(store),
		Remotes:   a2a.NewManager(&http.Client{}, discardLogger()),
		EnvFiles:  users.NewEnvDir(t.TempDir()),
		Logger:    discardLogger(),
	}, fs
}

func TestFactoryBuild(t *testing.T) {
	f, _ := newTestFactory(t)

	asst, err := f.Build(context.Background(), "ada", false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer asst.Close()

	names := asst.ToolNames()
	// Memory is unconfigured and no MCP manager is wired, so only the
	// file and remote-agent tools remain.
	want := []string{"register_uploaded_files", "list_user_files", "list_available_agents", "send_message_to_agent"}
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}

	if !strings.Contains(asst.config.Instruction, `"ada"`) {
		t.Errorf("instruction missing user: %q", asst.config.Instruction)
	}
	if !asst.config.Search {
		t.Error("web search should be on")
	}
	if asst.config.AudioOutput {
		t.Error("text session built as audio")
	}

	conv, err := asst.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	conv.Close()
}

func TestFactoryBuildRecallsMemory(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/graph/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"edges": []map[string]any{{"fact": "Ada keeps her calendar in UTC"}},
		})
	}))
	defer ts.Close()

	f, _ := newTestFactory(t)
	f.Memory = memory.NewClient("key", ts.URL, ts.Client())

	asst, err := f.Build(context.Background(), "ada", false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer asst.Close()

	if !strings.Contains(asst.config.Instruction, "Relevant past information: Ada keeps her calendar in UTC") {
		t.Errorf("instruction missing recalled fact: %q", asst.config.Instruction)
	}
	if !slices.Contains(asst.ToolNames(), "load_memory") {
		t.Errorf("load_memory tool missing: %v", asst.ToolNames())
	}
}

func TestFactoryBuildRecallFailureTolerated(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer ts.Close()

	f, _ := newTestFactory(t)
	f.Memory = memory.NewClient("key", ts.URL, ts.Client())

	asst, err := f.Build(context.Background(), "ada", false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer asst.Close()

	if strings.Contains(asst.config.Instruction, "Relevant past information") {
		t.Errorf("instruction should omit recall on failure: %q", asst.config.Instruction)
	}
}

func TestFactoryBuildAudio(t *testing.T) {
	f, _ := newTestFactory(t)
	asst, err := f.Build(context.Background(), "ada", true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer asst.Close()
	if !asst.config.AudioOutput {
		t.Error("audio flag lost")
	}
}

func TestFactoryBuildRequiresUser(t *testing.T) {
	f, _ := newTestFactory(t)
	if _, err := f.Build(context.Background(), "", false); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestFactoryUserEnv(t *testing.T) {
	env := users.NewEnvDir(t.TempDir())
	if err := env.Write("ada", map[string]string{users.EnvTodoistToken: "tok-1"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f := &Factory{EnvFiles: env, Logger: discardLogger()}

	ue := f.userEnv("ada")
	if ue.UserID != "ada" || ue.DataDir != env.Dir() {
		t.Errorf("user env = %+v", ue)
	}
	if ue.Vars[users.EnvTodoistToken] != "tok-1" {
		t.Errorf("vars = %v", ue.Vars)
	}

	// Unregistered users still get a session, just without credentials.
	ghost := f.userEnv("ghost")
	if len(ghost.Vars) != 0 || ghost.DataDir != env.Dir() {
		t.Errorf("ghost env = %+v", ghost)
	}
}

func TestProfileFor(t *testing.T) {
	if p := profileFor(mcp.ServerCalendar); p.name != "calendar_agent" {
		t.Errorf("calendar profile = %+v", p)
	}
	if p := profileFor(mcp.ServerTasks); p.name != "task_agent" {
		t.Errorf("tasks profile = %+v", p)
	}
	if p := profileFor(mcp.ServerEmail); p.name != "email_agent" {
		t.Errorf("email profile = %+v", p)
	}
	p := profileFor("notes")
	if p.name != "notes_agent" || p.description == "" {
		t.Errorf("fallback profile = %+v", p)
	}
}

func TestSubAgentModelSelection(t *testing.T) {
	f := &Factory{}
	if got := f.subAgentModel(mcp.ServerTasks); got != DefaultSubAgentModel {
		t.Errorf("tasks model = %q", got)
	}
	if got := f.subAgentModel(mcp.ServerEmail); got != DefaultEmailModel {
		t.Errorf("email model = %q", got)
	}

	f = &Factory{SubAgentModel: "gemini-x", EmailModel: "gemini-y"}
	if got := f.subAgentModel(mcp.ServerCalendar); got != "gemini-x" {
		t.Errorf("override model = %q", got)
	}
	if got := f.subAgentModel(mcp.ServerEmail); got != "gemini-y" {
		t.Errorf("email override = %q", got)
	}
}

func TestInstruction(t *testing.T) {
	now := time.Date(2025, 7, 9, 14, 30, 0, 0, time.UTC)
	got := Instruction("Lumen", "ada", now)

	for _, want := range []string{
		"You are Lumen",
		`"ada"`,
		"Wednesday, July 9, 2025 at 2:30 PM",
		"load_memory",
		"register_uploaded_files",
		"send_message_to_agent",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("instruction missing %q", want)
		}
	}
}
