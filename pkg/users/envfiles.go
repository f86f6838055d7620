package users

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Keys written to per-user env files at registration. The MCP servers read
// these names from their process environment.
const (
	EnvTodoistToken           = "TODOIST_API_TOKEN"
	EnvGoogleOAuthCredentials = "GOOGLE_OAUTH_CREDENTIALS"
)

// EnvDir manages the per-user dotenv files and uploaded credential blobs
// under one data directory. File names follow ".env.<user_id>" and
// "credentials/credentials_<user_id>.json".
type EnvDir struct {
	dir string
}

func NewEnvDir(dir string) *EnvDir {
	return &EnvDir{dir: dir}
}

func (d *EnvDir) Dir() string { return d.dir }

// Path returns the env file location for a user.
func (d *EnvDir) Path(userID string) string {
	return filepath.Join(d.dir, ".env."+NormalizeID(userID))
}

// CredentialsPath returns where a user's uploaded OAuth client JSON lives.
func (d *EnvDir) CredentialsPath(userID string) string {
	return filepath.Join(d.dir, "credentials", "credentials_"+NormalizeID(userID)+".json")
}

func (d *EnvDir) Exists(userID string) bool {
	_, err := os.Stat(d.Path(userID))
	return err == nil
}

// Write creates or replaces a user's env file with the given variables.
// The file opens with a header naming its owner so the per-user files
// stay tellable apart on disk.
func (d *EnvDir) Write(userID string, vars map[string]string) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create env dir: %w", err)
	}
	body, err := godotenv.Marshal(vars)
	if err != nil {
		return fmt.Errorf("encode env file: %w", err)
	}
	content := fmt.Sprintf("# User-specific environment for: %s\n%s\n", NormalizeID(userID), body)
	if err := os.WriteFile(d.Path(userID), []byte(content), 0o600); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}

// Read loads a user's env file into a map. A missing file is ErrNotFound.
func (d *EnvDir) Read(userID string) (map[string]string, error) {
	path := d.Path(userID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat env file: %w", err)
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	return vars, nil
}

// Update merges vars into an existing env file, keeping unrelated keys.
func (d *EnvDir) Update(userID string, vars map[string]string) error {
	existing, err := d.Read(userID)
	if err != nil {
		return err
	}
	for k, v := range vars {
		existing[k] = v
	}
	return d.Write(userID, existing)
}

// WriteCredentials stores an uploaded OAuth client JSON and returns its path.
func (d *EnvDir) WriteCredentials(userID string, data []byte) (string, error) {
	path := d.CredentialsPath(userID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create credentials dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write credentials: %w", err)
	}
	return path, nil
}
