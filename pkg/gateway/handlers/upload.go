package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lumenlabs/lumen/pkg/artifacts"
	"github.com/lumenlabs/lumen/pkg/gateway/apierror"
	"github.com/lumenlabs/lumen/pkg/metrics"
)

// multipartMemory is how much of a parsed form stays in memory before
// spilling to temp files.
const multipartMemory = 10 << 20

// UploadHandler accepts document uploads for later registration by the
// agent's file tools.
type UploadHandler struct {
	Registry *artifacts.Registry
	MaxBytes int64
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

func (h UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if h.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.record(false)
			writeError(w, r, http.StatusRequestEntityTooLarge,
				apierror.TooLarge(fmt.Sprintf("upload exceeds %d bytes", h.MaxBytes)))
			return
		}
		h.record(false)
		writeError(w, r, http.StatusBadRequest,
			apierror.InvalidRequest("request is not valid multipart form data"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.record(false)
		writeError(w, r, http.StatusBadRequest,
			apierror.InvalidRequest(`multipart field "file" is required`))
		return
	}
	defer file.Close()

	userID := r.FormValue("user_id")
	up, err := h.Registry.SaveUpload(r.Context(), userID, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		h.log().Error("upload store failed", "original_name", header.Filename, "error", err)
		h.record(false)
		writeError(w, r, http.StatusInternalServerError,
			&apierror.Error{Type: apierror.ErrAPI, Message: "failed to store upload"})
		return
	}

	h.record(true)
	h.log().Info("file uploaded",
		"filename", up.StoredName,
		"original_name", up.OriginalName,
		"size", up.Size,
	)
	writeJSON(w, http.StatusOK, up)
}

func (h UploadHandler) record(ok bool) {
	if h.Metrics != nil {
		h.Metrics.RecordUpload(ok)
	}
}

func (h UploadHandler) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
