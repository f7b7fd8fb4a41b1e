package fileapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/GoCodeAlone/dappkit"
	"github.com/go-chi/chi/v5"
)

// FileResponse describes a file or folder touched by a request.
type FileResponse struct {
	Name    string  `json:"name"`
	Path    string  `json:"path"`
	Content *string `json:"content,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type writeRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Handler serves the file routes of one sandbox.
type Handler struct {
	sandbox *Sandbox
	logger  dappkit.Logger
}

// NewHandler creates the file routes for sandbox.
func NewHandler(sandbox *Sandbox, logger dappkit.Logger) *Handler {
	if logger == nil {
		logger = dappkit.NopLogger()
	}
	return &Handler{sandbox: sandbox, logger: logger}
}

// Routes registers the file routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/files", h.listFiles)
	r.Post("/files", h.writeFile)
	r.Get("/file", h.readFile)
	r.Delete("/file", h.deleteFile)
	r.Post("/folders", h.createFolder)
}

func (h *Handler) listFiles(w http.ResponseWriter, _ *http.Request) {
	entries, err := Tree(h.sandbox.Root())
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) readFile(w http.ResponseWriter, r *http.Request) {
	path, err := h.sandbox.Resolve(r.URL.Query().Get("path"), false)
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		h.fail(w, statusFor(err), err)
		return
	}
	content := string(data)
	writeJSON(w, http.StatusOK, FileResponse{Name: filepath.Base(path), Path: path, Content: &content})
}

func (h *Handler) writeFile(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	path, err := h.sandbox.Resolve(req.Path, false)
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := os.WriteFile(path, []byte(req.Content), 0o644); err != nil {
		h.fail(w, statusFor(err), err)
		return
	}
	h.logger.Debug("File written", "path", path)
	writeJSON(w, http.StatusOK, FileResponse{Name: filepath.Base(path), Path: path, Content: &req.Content})
}

func (h *Handler) createFolder(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	path, err := h.sandbox.Resolve(req.Path, false)
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		h.fail(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, FileResponse{Name: filepath.Base(path), Path: path})
}

func (h *Handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	path, err := h.sandbox.Resolve(r.URL.Query().Get("path"), true)
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := os.RemoveAll(path); err != nil {
		h.fail(w, statusFor(err), err)
		return
	}
	h.logger.Debug("File deleted", "path", path)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("File API request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, os.ErrPermission):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
