// Package mcp launches and talks to the stdio MCP servers that back the
// assistant's calendar, task, and email integrations. One client runs per
// user and server so each process sees only that user's credentials.
package mcp

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/goccy/go-yaml"
)

// Env var names the bundled MCP servers read from their process environment.
const (
	EnvGoogleOAuthCredentials = "GOOGLE_OAUTH_CREDENTIALS"
	EnvCalendarTokenPath      = "GOOGLE_CALENDAR_MCP_TOKEN_PATH"
	EnvTodoistToken           = "TODOIST_API_TOKEN"
	EnvGmailOAuthPath         = "GMAIL_OAUTH_PATH"
	EnvGmailCredentialsPath   = "GMAIL_CREDENTIALS_PATH"
)

// Built-in server names.
const (
	ServerCalendar = "calendar"
	ServerTasks    = "tasks"
	ServerEmail    = "email"
)

const defaultConnectTimeout = 30 * time.Second

// UserEnv carries the per-user values a server's environment is built from.
// Vars holds the user's env file contents; DataDir is the directory where
// derived credential paths live.
type UserEnv struct {
	UserID  string
	Vars    map[string]string
	DataDir string
}

// ServerConfig describes how to launch one MCP server. Env lists static
// KEY=VALUE pairs; UserEnvKeys names variables copied verbatim from the
// user's env file. Built-in servers additionally derive variables in code.
type ServerConfig struct {
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args"`
	Env         []string `yaml:"env"`
	UserEnvKeys []string `yaml:"user-env"`
	Timeout     string   `yaml:"timeout"`

	buildEnv func(UserEnv) []string
}

func (c ServerConfig) connectTimeout() time.Duration {
	if c.Timeout == "" {
		return defaultConnectTimeout
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return defaultConnectTimeout
	}
	return d
}

// envFor assembles the extra environment for one user's server process.
func (c ServerConfig) envFor(u UserEnv) []string {
	env := slices.Clone(c.Env)
	if c.buildEnv != nil {
		env = append(env, c.buildEnv(u)...)
	}
	for _, key := range c.UserEnvKeys {
		if v := u.Vars[key]; v != "" {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// DefaultCatalog returns the three built-in integrations.
func DefaultCatalog() map[string]ServerConfig {
	return map[string]ServerConfig{
		ServerCalendar: {
			Command:  "npx",
			Args:     []string{"@cocal/google-calendar-mcp"},
			buildEnv: calendarEnv,
		},
		ServerTasks: {
			Command:  "npx",
			Args:     []string{"-y", "@abhiz123/todoist-mcp-server"},
			buildEnv: tasksEnv,
		},
		ServerEmail: {
			Command:  "npx",
			Args:     []string{"@gongrzhe/server-gmail-autoauth-mcp"},
			Timeout:  "60s",
			buildEnv: emailEnv,
		},
	}
}

// calendarEnv points the calendar server at the user's OAuth client JSON
// and gives it a per-user token location so users never share calendar
// sessions. An explicit token path in the user's env file wins.
func calendarEnv(u UserEnv) []string {
	oauth := u.Vars[EnvGoogleOAuthCredentials]
	if oauth == "" {
		return nil
	}
	env := []string{EnvGoogleOAuthCredentials + "=" + oauth}
	tokenPath := u.Vars[EnvCalendarTokenPath]
	if tokenPath == "" && u.UserID != "" && u.DataDir != "" {
		dir := filepath.Join(u.DataDir, "calendar_credentials")
		_ = os.MkdirAll(dir, 0o755)
		tokenPath = filepath.Join(dir, "credentials_"+u.UserID+".json")
	}
	if tokenPath != "" {
		env = append(env, EnvCalendarTokenPath+"="+tokenPath)
	}
	return env
}

func tasksEnv(u UserEnv) []string {
	if v := u.Vars[EnvTodoistToken]; v != "" {
		return []string{EnvTodoistToken + "=" + v}
	}
	return nil
}

// emailEnv points the Gmail server at the user's OAuth client JSON and gives
// it a per-user token location so users never share Gmail sessions.
func emailEnv(u UserEnv) []string {
	oauth := u.Vars[EnvGoogleOAuthCredentials]
	if oauth == "" || u.UserID == "" {
		return nil
	}
	tokenDir := filepath.Join(u.DataDir, "gmail_credentials")
	_ = os.MkdirAll(tokenDir, 0o755)
	return []string{
		EnvGmailOAuthPath + "=" + oauth,
		EnvGmailCredentialsPath + "=" + filepath.Join(tokenDir, "credentials_"+u.UserID+".json"),
	}
}

type catalogFile struct {
	Servers map[string]ServerConfig `yaml:"servers"`
}

// LoadCatalog merges a YAML catalog file over the defaults. Entries may
// override a built-in server's command, args, or timeout, or add entirely
// new servers. A missing path returns the defaults unchanged.
func LoadCatalog(path string) (map[string]ServerConfig, error) {
	catalog := DefaultCatalog()
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return catalog, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	for name, override := range file.Servers {
		base, ok := catalog[name]
		if !ok {
			catalog[name] = override
			continue
		}
		if override.Command != "" {
			base.Command = override.Command
		}
		if override.Args != nil {
			base.Args = override.Args
		}
		if override.Env != nil {
			base.Env = override.Env
		}
		if override.UserEnvKeys != nil {
			base.UserEnvKeys = override.UserEnvKeys
		}
		if override.Timeout != "" {
			base.Timeout = override.Timeout
		}
		catalog[name] = base
	}
	return catalog, nil
}
