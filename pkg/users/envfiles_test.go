package users

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnvDirWriteRead(t *testing.T) {
	d := NewEnvDir(t.TempDir())

	err := d.Write("Ada", map[string]string{
		EnvTodoistToken:           "tok123",
		EnvGoogleOAuthCredentials: "user_data/credentials/credentials_ada.json",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	if !d.Exists("ada") {
		t.Fatal("normalized lookup should find the file")
	}
	if filepath.Base(d.Path("Ada")) != ".env.ada" {
		t.Fatalf("path=%q", d.Path("Ada"))
	}

	vars, err := d.Read("ADA")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if vars[EnvTodoistToken] != "tok123" {
		t.Fatalf("vars=%v", vars)
	}

	raw, err := os.ReadFile(d.Path("ada"))
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if !strings.HasPrefix(string(raw), "# User-specific environment for: ada\n") {
		t.Fatalf("raw=%q", raw)
	}
}

func TestEnvDirReadMissing(t *testing.T) {
	d := NewEnvDir(t.TempDir())
	if _, err := d.Read("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestEnvDirUpdate(t *testing.T) {
	d := NewEnvDir(t.TempDir())
	if err := d.Write("ada", map[string]string{
		EnvTodoistToken: "old",
		"EXTRA":         "keep-me",
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := d.Update("ada", map[string]string{EnvTodoistToken: "new"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	vars, err := d.Read("ada")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if vars[EnvTodoistToken] != "new" || vars["EXTRA"] != "keep-me" {
		t.Fatalf("vars=%v", vars)
	}

	if err := d.Update("ghost", map[string]string{EnvTodoistToken: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestEnvDirWriteCredentials(t *testing.T) {
	d := NewEnvDir(t.TempDir())
	path, err := d.WriteCredentials("Ada", []byte(`{"installed":{}}`))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasSuffix(path, filepath.Join("credentials", "credentials_ada.json")) {
		t.Fatalf("path=%q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != `{"installed":{}}` {
		t.Fatalf("data=%q", data)
	}
}
