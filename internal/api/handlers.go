package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"grave.box/config"
	"grave.box/internal/bot"
	"grave.box/internal/ingest"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

// Dispatcher serves chat events.
type Dispatcher interface {
	Command(ctx context.Context, userID int64, name string, args []string) bot.Reply
	Text(ctx context.Context, userID int64, text string) bot.Reply
	File(ctx context.Context, userID int64, f ingest.File) bot.Reply
}

type Handler struct {
	bot    Dispatcher
	config *config.Config
}

func NewHandler(d Dispatcher, cfg *config.Config) *Handler {
	return &Handler{
		bot:    d,
		config: cfg,
	}
}

type CommandRequest struct {
	UserID  int64    `json:"user_id"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

type TextRequest struct {
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Command(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == 0 {
		h.error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	// "get abc" in command with no args is split like a chat line
	name, args := req.Command, req.Args
	if len(args) == 0 {
		if fields := strings.Fields(name); len(fields) > 1 {
			name, args = fields[0], fields[1:]
		}
	}
	if strings.TrimSpace(name) == "" {
		h.error(w, http.StatusBadRequest, "command is required")
		return
	}

	writeJSON(w, http.StatusOK, h.bot.Command(r.Context(), req.UserID, name, args))
}

func (h *Handler) Text(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == 0 {
		h.error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	writeJSON(w, http.StatusOK, h.bot.Text(r.Context(), req.UserID, req.Text))
}

// File accepts a multipart form with user_id and file fields.
func (h *Handler) File(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.Server.MaxUploadBytes+multipartMemory)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.error(w, http.StatusRequestEntityTooLarge, "file exceeds the upload limit")
			return
		}
		h.error(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	userID, err := strconv.ParseInt(r.FormValue("user_id"), 10, 64)
	if err != nil || userID == 0 {
		h.error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	reply := h.bot.File(r.Context(), userID, ingest.File{
		Name:        header.Filename,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	writeJSON(w, http.StatusOK, reply)
}

func (h *Handler) error(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
