// Command lumen-chat is a terminal client for the Lumen gateway. It speaks
// the text side of the chat socket protocol and can stage file uploads for
// the assistant to pick up.
package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/lumenlabs/lumen/pkg/gateway/live/protocol"
)

const (
	defaultServerURL = "http://127.0.0.1:8001"
	defaultTimeout   = 90 * time.Second
)

type chatConfig struct {
	ServerURL string
	UserID    string
	SessionID string
	Timeout   time.Duration
}

func parseChatConfig(args []string, getenv func(string) string) (chatConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := chatConfig{}
	fs := flag.NewFlagSet("lumen-chat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerURL, "server", defaultServerURL, "Lumen gateway base URL")
	fs.StringVar(&cfg.UserID, "user", strings.TrimSpace(getenv("LUMEN_USER_ID")), "user id for the session (or LUMEN_USER_ID)")
	fs.StringVar(&cfg.SessionID, "session", "", "session id (generated when empty)")
	fs.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "per-turn timeout (e.g. 90s)")

	if err := fs.Parse(args); err != nil {
		return chatConfig{}, err
	}

	if strings.TrimSpace(cfg.SessionID) == "" {
		cfg.SessionID = newSessionID()
	}
	if err := validateChatConfig(cfg); err != nil {
		return chatConfig{}, err
	}
	return cfg, nil
}

func newSessionID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("cli-%d", time.Now().UnixNano())
	}
	return "cli-" + hex.EncodeToString(buf)
}

func validateChatConfig(cfg chatConfig) error {
	serverURL := strings.TrimSpace(cfg.ServerURL)
	if serverURL == "" {
		return errors.New("server must not be empty")
	}
	u, err := url.Parse(serverURL)
	if err != nil || strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
		return errors.New("server must be a valid absolute URL")
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("server scheme %q is not supported", u.Scheme)
	}
	if u.User != nil {
		return errors.New("server must not include credentials")
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return errors.New("user must not be empty (set -user or LUMEN_USER_ID)")
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		return errors.New("session must not be empty")
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	return nil
}

// chatSocketURL derives the websocket endpoint for this session from the
// HTTP base URL.
func chatSocketURL(cfg chatConfig) (string, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.ServerURL))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server scheme %q is not supported", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(cfg.SessionID)
	q := u.Query()
	q.Set("user_id", cfg.UserID)
	q.Set("is_audio", "false")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type clientFrame struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
	Role     string `json:"role"`
}

const (
	eventDelta = "delta"
	eventTurn  = "turn"
	eventError = "error"
	eventOther = "other"
)

type serverEvent struct {
	kind        string
	text        string
	interrupted bool
	errBody     protocol.ErrorBody
}

func decodeServerEvent(data []byte) serverEvent {
	var probe struct {
		MIMEType     string              `json:"mime_type"`
		Data         string              `json:"data"`
		TurnComplete *bool               `json:"turn_complete"`
		Interrupted  bool                `json:"interrupted"`
		Error        *protocol.ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return serverEvent{kind: eventOther}
	}
	switch {
	case probe.TurnComplete != nil:
		return serverEvent{kind: eventTurn, interrupted: probe.Interrupted}
	case probe.MIMEType == protocol.MIMEError:
		ev := serverEvent{kind: eventError}
		if probe.Error != nil {
			ev.errBody = *probe.Error
		}
		return ev
	case probe.MIMEType == protocol.MIMEText:
		return serverEvent{kind: eventDelta, text: probe.Data}
	default:
		return serverEvent{kind: eventOther}
	}
}

func handleSlashCommand(ctx context.Context, line string, cfg chatConfig, out io.Writer, errOut io.Writer) bool {
	if !strings.HasPrefix(line, "/upload") {
		return false
	}
	path := strings.TrimSpace(strings.TrimPrefix(line, "/upload"))
	if path == "" {
		fmt.Fprintln(errOut, "usage: /upload {path}")
		return true
	}
	stored, err := uploadFile(ctx, cfg, path)
	if err != nil {
		fmt.Fprintf(errOut, "upload error: %v\n", err)
		return true
	}
	fmt.Fprintf(out, "uploaded %s as %s; mention it in your next message\n", filepath.Base(path), stored)
	return true
}

func uploadFile(ctx context.Context, cfg chatConfig, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mp := multipart.NewWriter(&body)
	if err := mp.WriteField("user_id", cfg.UserID); err != nil {
		return "", err
	}
	part, err := mp.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := mp.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")+"/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mp.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var stored struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return stored.Filename, nil
}

func runChat(ctx context.Context, cfg chatConfig, in io.Reader, out io.Writer, errOut io.Writer) error {
	if err := validateChatConfig(cfg); err != nil {
		return err
	}
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	wsURL, err := chatSocketURL(cfg)
	if err != nil {
		return err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return fmt.Errorf("dial chat socket: %w (status %s)", err, resp.Status)
		}
		return fmt.Errorf("dial chat socket: %w", err)
	}
	defer conn.Close()
	defer func() {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	}()

	events := make(chan serverEvent, 32)
	go func() {
		defer close(events)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			events <- decodeServerEvent(data)
		}
	}()

	fmt.Fprintf(out, "Connected to %s as %s (session %s)\n", cfg.ServerURL, cfg.UserID, cfg.SessionID)
	fmt.Fprintln(out, "Type /exit or /quit to stop. Use /upload {path} to attach a file.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "/exit", "/quit":
			fmt.Fprintln(out, "bye")
			return nil
		}
		if handleSlashCommand(ctx, line, cfg, out, errOut) {
			continue
		}

		frame := clientFrame{MIMEType: protocol.MIMEText, Data: line, Role: protocol.RoleUser}
		if err := conn.WriteJSON(frame); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		if err := printTurn(events, cfg.Timeout, out, errOut); err != nil {
			return err
		}
	}
}

// printTurn streams one model turn to out, stopping at the turn signal, a
// session error, or the per-turn timeout.
func printTurn(events <-chan serverEvent, timeout time.Duration, out io.Writer, errOut io.Writer) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				fmt.Fprintln(out)
				return errors.New("connection closed by server")
			}
			switch ev.kind {
			case eventDelta:
				fmt.Fprint(out, ev.text)
			case eventTurn:
				if ev.interrupted {
					fmt.Fprint(out, " [interrupted]")
				}
				fmt.Fprintln(out)
				return nil
			case eventError:
				fmt.Fprintln(out)
				fmt.Fprintf(errOut, "server error: %s: %s\n", ev.errBody.Code, ev.errBody.Message)
				return nil
			}
		case <-timer.C:
			fmt.Fprintln(out)
			fmt.Fprintf(errOut, "turn timed out after %s\n", timeout)
			return nil
		}
	}
}

func main() {
	_ = godotenv.Load()

	cfg, err := parseChatConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lumen-chat: %v\n", err)
		os.Exit(1)
	}

	if err := runChat(context.Background(), cfg, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "lumen-chat: %v\n", err)
		os.Exit(1)
	}
}
