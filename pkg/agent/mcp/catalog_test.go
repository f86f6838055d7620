package mcp

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestDefaultCatalogServers(t *testing.T) {
	catalog := DefaultCatalog()
	for _, name := range []string{ServerCalendar, ServerTasks, ServerEmail} {
		cfg, ok := catalog[name]
		if !ok {
			t.Fatalf("missing server %q", name)
		}
		if cfg.Command != "npx" {
			t.Fatalf("%s command=%q", name, cfg.Command)
		}
	}
	if got := catalog[ServerTasks].Args; !slices.Equal(got, []string{"-y", "@abhiz123/todoist-mcp-server"}) {
		t.Fatalf("tasks args=%v", got)
	}
}

func TestCalendarEnv(t *testing.T) {
	u := UserEnv{
		UserID: "ada",
		Vars: map[string]string{
			EnvGoogleOAuthCredentials: "/data/credentials/credentials_ada.json",
			EnvCalendarTokenPath:      "/data/tokens/ada",
		},
	}
	env := DefaultCatalog()[ServerCalendar].envFor(u)
	if len(env) != 2 {
		t.Fatalf("env=%v", env)
	}
	if env[0] != EnvGoogleOAuthCredentials+"=/data/credentials/credentials_ada.json" {
		t.Fatalf("env=%v", env)
	}
	if env[1] != EnvCalendarTokenPath+"=/data/tokens/ada" {
		t.Fatalf("explicit token path must win: %v", env)
	}

	if got := DefaultCatalog()[ServerCalendar].envFor(UserEnv{UserID: "ada"}); len(got) != 0 {
		t.Fatalf("env without vars=%v", got)
	}
}

func TestCalendarEnvDerivesTokenPath(t *testing.T) {
	dir := t.TempDir()
	u := UserEnv{
		UserID:  "ada",
		Vars:    map[string]string{EnvGoogleOAuthCredentials: "/data/credentials/credentials_ada.json"},
		DataDir: dir,
	}
	env := DefaultCatalog()[ServerCalendar].envFor(u)
	if len(env) != 2 {
		t.Fatalf("env=%v", env)
	}
	wantToken := EnvCalendarTokenPath + "=" + filepath.Join(dir, "calendar_credentials", "credentials_ada.json")
	if env[1] != wantToken {
		t.Fatalf("env[1]=%q, want %q", env[1], wantToken)
	}
	if _, err := os.Stat(filepath.Join(dir, "calendar_credentials")); err != nil {
		t.Fatalf("token dir not created: %v", err)
	}
}

func TestTasksEnv(t *testing.T) {
	u := UserEnv{UserID: "ada", Vars: map[string]string{EnvTodoistToken: "tok123"}}
	env := DefaultCatalog()[ServerTasks].envFor(u)
	if len(env) != 1 || env[0] != EnvTodoistToken+"=tok123" {
		t.Fatalf("env=%v", env)
	}
}

func TestEmailEnvDerivesPaths(t *testing.T) {
	dir := t.TempDir()
	u := UserEnv{
		UserID:  "ada",
		Vars:    map[string]string{EnvGoogleOAuthCredentials: "/data/credentials/credentials_ada.json"},
		DataDir: dir,
	}
	env := DefaultCatalog()[ServerEmail].envFor(u)
	if len(env) != 2 {
		t.Fatalf("env=%v", env)
	}
	if env[0] != EnvGmailOAuthPath+"=/data/credentials/credentials_ada.json" {
		t.Fatalf("env=%v", env)
	}
	wantToken := EnvGmailCredentialsPath + "=" + filepath.Join(dir, "gmail_credentials", "credentials_ada.json")
	if env[1] != wantToken {
		t.Fatalf("env[1]=%q, want %q", env[1], wantToken)
	}
	if _, err := os.Stat(filepath.Join(dir, "gmail_credentials")); err != nil {
		t.Fatalf("token dir not created: %v", err)
	}

	if got := DefaultCatalog()[ServerEmail].envFor(UserEnv{UserID: "ada", DataDir: dir}); len(got) != 0 {
		t.Fatalf("env without oauth=%v", got)
	}
}

func TestConnectTimeout(t *testing.T) {
	if got := (ServerConfig{}).connectTimeout(); got != defaultConnectTimeout {
		t.Fatalf("default=%v", got)
	}
	if got := (ServerConfig{Timeout: "60s"}).connectTimeout(); got != 60*time.Second {
		t.Fatalf("60s=%v", got)
	}
	if got := (ServerConfig{Timeout: "bogus"}).connectTimeout(); got != defaultConnectTimeout {
		t.Fatalf("bogus=%v", got)
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	catalog, err := LoadCatalog("")
	if err != nil || len(catalog) != 3 {
		t.Fatalf("catalog=%v err=%v", catalog, err)
	}
	catalog, err = LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil || len(catalog) != 3 {
		t.Fatalf("catalog=%v err=%v", catalog, err)
	}
}

func TestLoadCatalogOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	data := strings.Join([]string{
		"servers:",
		"  calendar:",
		"    command: google-calendar-mcp",
		"    args: []",
		"  notes:",
		"    command: npx",
		"    args: [\"-y\", \"notes-mcp\"]",
		"    user-env: [\"NOTES_API_KEY\"]",
	}, "\n")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	cal := catalog[ServerCalendar]
	if cal.Command != "google-calendar-mcp" || len(cal.Args) != 0 {
		t.Fatalf("calendar=%+v", cal)
	}
	if cal.buildEnv == nil {
		t.Fatal("override must keep the built-in env builder")
	}

	notes, ok := catalog["notes"]
	if !ok || notes.Command != "npx" {
		t.Fatalf("notes=%+v", notes)
	}
	env := notes.envFor(UserEnv{Vars: map[string]string{"NOTES_API_KEY": "k"}})
	if len(env) != 1 || env[0] != "NOTES_API_KEY=k" {
		t.Fatalf("env=%v", env)
	}
}
