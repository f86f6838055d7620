package artifacts

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// DefaultUser owns uploads that arrive without a user id.
const DefaultUser = "anonymous"

// Upload describes a stored upload awaiting registration.
type Upload struct {
	StoredName   string `json:"filename"`
	OriginalName string `json:"original_name"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
}

// Registration is the outcome of registering one pending upload.
type Registration struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Cleanup  string `json:"cleanup,omitempty"`
}

// Registry tracks each user's pending uploads and registered artifacts on
// top of a BlobStore. Uploads live under "uploads/<user>/" until the agent
// registers them, which moves them under "artifacts/<user>/".
type Registry struct {
	store BlobStore
}

func NewRegistry(store BlobStore) *Registry {
	return &Registry{store: store}
}

func normalizeUser(userID string) string {
	userID = strings.ToLower(strings.TrimSpace(userID))
	if userID == "" {
		return DefaultUser
	}
	return userID
}

// StoredName generates the on-disk name for an upload: a fresh UUID keeping
// the original extension. Client-supplied names never touch the filesystem.
func StoredName(original string) string {
	return uuid.NewString() + strings.ToLower(filepath.Ext(original))
}

// SaveUpload streams an incoming file into the pending area.
func (r *Registry) SaveUpload(ctx context.Context, userID, originalName, contentType string, src io.Reader) (*Upload, error) {
	userID = normalizeUser(userID)
	stored := StoredName(originalName)

	w, err := r.store.Write(ctx, path.Join("uploads", userID, stored))
	if err != nil {
		return nil, fmt.Errorf("open upload blob: %w", err)
	}
	size, err := io.Copy(w, src)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	if strings.TrimSpace(contentType) == "" {
		contentType = MIMETypeFor(stored)
	}
	return &Upload{
		StoredName:   stored,
		OriginalName: originalName,
		ContentType:  contentType,
		Size:         size,
	}, nil
}

// PendingUploads lists the stored names waiting in a user's upload area.
func (r *Registry) PendingUploads(ctx context.Context, userID string) ([]string, error) {
	return r.baseNames(ctx, path.Join("uploads", normalizeUser(userID)))
}

// ListArtifacts lists the registered artifact names for a user.
func (r *Registry) ListArtifacts(ctx context.Context, userID string) ([]string, error) {
	return r.baseNames(ctx, path.Join("artifacts", normalizeUser(userID)))
}

func (r *Registry) baseNames(ctx context.Context, prefix string) ([]string, error) {
	paths, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, path.Base(p))
	}
	sort.Strings(names)
	return names, nil
}

// RegisterUploads moves every pending upload into the user's artifact area.
// Each upload blob is deleted once its artifact copy succeeds. Failures are
// reported per file and do not stop the scan.
func (r *Registry) RegisterUploads(ctx context.Context, userID string) ([]Registration, error) {
	userID = normalizeUser(userID)
	pending, err := r.PendingUploads(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("scan uploads: %w", err)
	}

	regs := make([]Registration, 0, len(pending))
	for _, name := range pending {
		reg := Registration{Filename: name, MIMEType: MIMETypeFor(name)}

		src := path.Join("uploads", userID, name)
		dst := path.Join("artifacts", userID, name)
		if err := r.copyBlob(ctx, src, dst); err != nil {
			reg.Status = "failed"
			reg.Error = err.Error()
			regs = append(regs, reg)
			continue
		}

		reg.Status = "registered"
		if err := r.store.Delete(ctx, src); err == nil {
			reg.Cleanup = "deleted"
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

// ReadArtifact opens a registered artifact and reports its MIME type.
func (r *Registry) ReadArtifact(ctx context.Context, userID, name string) (io.ReadCloser, string, error) {
	name = path.Base(name)
	rc, err := r.store.Read(ctx, path.Join("artifacts", normalizeUser(userID), name))
	if err != nil {
		return nil, "", err
	}
	return rc, MIMETypeFor(name), nil
}

func (r *Registry) copyBlob(ctx context.Context, src, dst string) error {
	rc, err := r.store.Read(ctx, src)
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := r.store.Write(ctx, dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// MIMETypeFor maps a filename extension to the MIME type the agent receives.
// Unknown extensions fall back to application/octet-stream.
func MIMETypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".doc", ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
