package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"recruitbot/internal/memory"
)

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("file too large")

// multipartMemory is how much of a multipart upload is buffered in memory.
const multipartMemory = 4 << 20

// FileStore keeps uploaded attachments on disk and their metadata in SQLite.
type FileStore struct {
	dir          string
	maxSizeBytes int64
	db           *memory.SQLiteStore
	logger       *slog.Logger
}

type FileStoreConfig struct {
	Dir          string
	MaxSizeBytes int64 // default 10MB
	DB           *memory.SQLiteStore
	Logger       *slog.Logger
}

func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, errors.New("attachment directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment storage: %w", err)
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = 10 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FileStore{
		dir:          cfg.Dir,
		maxSizeBytes: cfg.MaxSizeBytes,
		db:           cfg.DB,
		logger:       cfg.Logger,
	}, nil
}

// Store writes reader to disk under a fresh id and records it. The returned
// record's StoragePath base name is the public file name.
func (f *FileStore) Store(ctx context.Context, filename, mimeType string, reader io.Reader) (*memory.AttachmentRecord, error) {
	id := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(filename))
	storagePath := filepath.Join(f.dir, id+ext)

	out, err := os.Create(storagePath)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	written, err := io.Copy(out, io.LimitReader(reader, f.maxSizeBytes+1))
	out.Close()
	if err != nil {
		os.Remove(storagePath)
		return nil, fmt.Errorf("write file: %w", err)
	}
	if written > f.maxSizeBytes {
		os.Remove(storagePath)
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxSizeBytes)
	}

	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			mimeType = byExt
		} else if mimeType == "" {
			mimeType = "application/octet-stream"
		}
	}

	rec := memory.AttachmentRecord{
		ID:          id,
		Filename:    filename,
		MimeType:    mimeType,
		Size:        written,
		StoragePath: storagePath,
	}
	if err := f.db.SaveAttachment(ctx, rec); err != nil {
		os.Remove(storagePath)
		return nil, fmt.Errorf("record attachment: %w", err)
	}

	f.logger.Info("file stored",
		"id", id,
		"filename", filename,
		"size", written,
		"mime_type", mimeType,
	)
	return &rec, nil
}

// Lookup resolves a public file name ("<id><ext>") to its record.
func (f *FileStore) Lookup(ctx context.Context, name string) (*memory.AttachmentRecord, error) {
	if name != filepath.Base(name) {
		return nil, fmt.Errorf("attachment %s: %w", name, memory.ErrNotFound)
	}
	id := strings.TrimSuffix(name, filepath.Ext(name))
	rec, err := f.db.GetAttachment(ctx, id)
	if err != nil {
		return nil, err
	}
	if filepath.Base(rec.StoragePath) != name {
		return nil, fmt.Errorf("attachment %s: %w", name, memory.ErrNotFound)
	}
	return rec, nil
}

type uploadResponse struct {
	URL  string `json:"url"`
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

func (s *Server) handleUpload(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, s.files.maxSizeBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(rw, http.StatusRequestEntityTooLarge, ErrTooLarge.Error())
			return
		}
		writeError(rw, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(rw, http.StatusBadRequest, `multipart field "file" is required`)
		return
	}
	defer file.Close()

	rec, err := s.files.Store(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			writeError(rw, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		s.logger.Error("attachment upload failed", "filename", header.Filename, "err", err)
		writeError(rw, http.StatusInternalServerError, "upload failed")
		return
	}
	s.metrics.Uploads.Inc()

	writeJSON(rw, http.StatusCreated, uploadResponse{
		URL:  s.baseURL(r) + "/files/" + filepath.Base(rec.StoragePath),
		ID:   rec.ID,
		Name: rec.Filename,
		Type: rec.MimeType,
		Size: rec.Size,
	})
}

func (s *Server) handleFile(rw http.ResponseWriter, r *http.Request) {
	rec, err := s.files.Lookup(r.Context(), r.PathValue("name"))
	if err != nil {
		s.storeError(rw, "get attachment", err)
		return
	}
	f, err := os.Open(rec.StoragePath)
	if err != nil {
		s.logger.Error("attachment missing on disk", "id", rec.ID, "path", rec.StoragePath, "err", err)
		writeError(rw, http.StatusNotFound, "attachment content missing")
		return
	}
	defer f.Close()

	rw.Header().Set("Content-Type", rec.MimeType)
	rw.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": rec.Filename}))
	http.ServeContent(rw, r, rec.Filename, rec.CreatedAt, f)
}

// baseURL is the configured public URL, or the scheme and host of r.
func (s *Server) baseURL(r *http.Request) string {
	if s.publicURL != "" {
		return s.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
