package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lumenlabs/lumen/pkg/gateway/apierror"
	"github.com/lumenlabs/lumen/pkg/users"
)

// credentialsMaxBytes caps uploaded OAuth client files. Real credential
// JSON is a few KB.
const credentialsMaxBytes = 1 << 20

// CredentialTypeGoogleOAuth is the one credential kind the upload
// endpoint currently stores.
const CredentialTypeGoogleOAuth = "google_oauth"

// UsersHandler serves the account endpoints. A nil Store (no database
// configured) answers every endpoint with 503; chat itself never
// requires an account.
type UsersHandler struct {
	Store    users.Store
	EnvFiles *users.EnvDir
	Logger   *slog.Logger
}

// Validate answers POST /validate-user. Unknown users and wrong
// passwords are the same answer so the endpoint cannot be used to probe
// for accounts.
func (h UsersHandler) Validate(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	var req struct {
		UserID   string `json:"user_id"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, apierror.InvalidRequest(err.Error()))
		return
	}
	userID := users.NormalizeID(req.UserID)
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, apierror.InvalidRequest("user_id is required"))
		return
	}

	valid, err := h.Store.Authenticate(r.Context(), userID, req.Password)
	if err != nil {
		h.log().Error("user validation failed", "user_id", userID, "error", err)
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": valid, "user_id": userID})
}

// Register answers POST /register-user: a database row plus the
// per-user env file the sub-agents read their credentials from.
func (h UsersHandler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	var req struct {
		UserID          string `json:"user_id"`
		Password        string `json:"password"`
		Location        string `json:"location"`
		TodoistAPIToken string `json:"todoist_api_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, apierror.InvalidRequest(err.Error()))
		return
	}
	userID := users.NormalizeID(req.UserID)
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, apierror.InvalidRequest("user_id is required"))
		return
	}
	if req.Password == "" {
		writeError(w, r, http.StatusBadRequest, apierror.InvalidRequest("password is required"))
		return
	}

	err := h.Store.Create(r.Context(), users.NewUser{
		UserID:          userID,
		Password:        req.Password,
		Location:        req.Location,
		TodoistAPIToken: req.TodoistAPIToken,
	})
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	vars := map[string]string{}
	if req.TodoistAPIToken != "" {
		vars[users.EnvTodoistToken] = req.TodoistAPIToken
	}
	if err := h.EnvFiles.Write(userID, vars); err != nil {
		h.log().Error("user env write failed", "user_id", userID, "error", err)
		writeError(w, r, http.StatusInternalServerError,
			&apierror.Error{Type: apierror.ErrAPI, Message: "failed to write user environment"})
		return
	}

	h.log().Info("user registered", "user_id", userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user_id": userID,
		"message": fmt.Sprintf("user %s registered", userID),
	})
}

// Update answers POST /update-user. The password in the request is the
// current one; it authenticates the change.
func (h UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	var req struct {
		UserID          string  `json:"user_id"`
		Password        string  `json:"password"`
		Location        *string `json:"location"`
		TodoistAPIToken *string `json:"todoist_api_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, apierror.InvalidRequest(err.Error()))
		return
	}
	userID := users.NormalizeID(req.UserID)
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, apierror.InvalidRequest("user_id is required"))
		return
	}
	if req.Location == nil && req.TodoistAPIToken == nil {
		writeError(w, r, http.StatusBadRequest, apierror.InvalidRequest("at least one field must be provided"))
		return
	}

	ok, err := h.Store.Authenticate(r.Context(), userID, req.Password)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusUnauthorized, apierror.Authentication("invalid credentials"))
		return
	}

	upd := users.Update{Location: req.Location, TodoistAPIToken: req.TodoistAPIToken}
	if err := h.Store.Update(r.Context(), userID, upd); err != nil {
		h.storeError(w, r, err)
		return
	}
	if req.TodoistAPIToken != nil {
		h.syncEnv(userID, map[string]string{users.EnvTodoistToken: *req.TodoistAPIToken})
	}

	h.log().Info("user updated", "user_id", userID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user_id": userID})
}

// UploadCredentials answers POST /upload-credentials: stores the OAuth
// client JSON, records its path on the user row, and mirrors it into
// the env file.
func (h UsersHandler) UploadCredentials(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, credentialsMaxBytes)
	if err := r.ParseMultipartForm(credentialsMaxBytes); err != nil {
		writeError(w, r, http.StatusBadRequest,
			apierror.InvalidRequest("request is not valid multipart form data"))
		return
	}

	userID := users.NormalizeID(r.FormValue("user_id"))
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, apierror.InvalidRequest("user_id is required"))
		return
	}
	credType := strings.TrimSpace(r.FormValue("credential_type"))
	if credType == "" {
		credType = CredentialTypeGoogleOAuth
	}
	if credType != CredentialTypeGoogleOAuth {
		writeError(w, r, http.StatusBadRequest,
			apierror.InvalidRequest(fmt.Sprintf("unsupported credential_type %q", credType)))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest,
			apierror.InvalidRequest(`multipart field "file" is required`))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, apierror.InvalidRequest("failed to read credentials file"))
		return
	}
	if !json.Valid(data) {
		writeError(w, r, http.StatusBadRequest,
			apierror.InvalidRequest("credentials file must be valid JSON"))
		return
	}

	path, err := h.EnvFiles.WriteCredentials(userID, data)
	if err != nil {
		h.log().Error("credentials write failed", "user_id", userID, "error", err)
		writeError(w, r, http.StatusInternalServerError,
			&apierror.Error{Type: apierror.ErrAPI, Message: "failed to store credentials"})
		return
	}
	if err := h.Store.Update(r.Context(), userID, users.Update{GoogleOAuthCredentials: &path}); err != nil {
		h.storeError(w, r, err)
		return
	}
	h.syncEnv(userID, map[string]string{users.EnvGoogleOAuthCredentials: path})

	h.log().Info("credentials uploaded", "user_id", userID, "credential_type", credType)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"user_id":         userID,
		"credential_type": credType,
	})
}

// syncEnv mirrors changed variables into the user's env file, creating
// it for rows that predate one. Env drift is logged, never fatal: the
// database row already holds the change.
func (h UsersHandler) syncEnv(userID string, vars map[string]string) {
	err := h.EnvFiles.Update(userID, vars)
	if errors.Is(err, users.ErrNotFound) {
		err = h.EnvFiles.Write(userID, vars)
	}
	if err != nil {
		h.log().Warn("user env sync failed", "user_id", userID, "error", err)
	}
}

func (h UsersHandler) ready(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return false
	}
	if h.Store == nil {
		writeError(w, r, http.StatusServiceUnavailable,
			apierror.Unavailable("user accounts are not configured"))
		return false
	}
	return true
}

func (h UsersHandler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := requestIDFromContext(r.Context())
	apiErr, status := apierror.FromError(err, reqID)
	writeJSON(w, status, apierror.Envelope{Error: apiErr})
}

func (h UsersHandler) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
