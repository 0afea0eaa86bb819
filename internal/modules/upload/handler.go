package upload

import (
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"nftpack/internal/pkg/response"
	"nftpack/internal/session"
)

const (
	headerSessionID   = "x-session-id"
	headerChunkIndex  = "x-chunk-index"
	headerTotalChunks = "x-total-chunks"
)

type Handler struct {
	service     *Service
	registry    *session.Registry
	maxFileSize int64
	devMode     bool
}

func NewHandler(service *Service, registry *session.Registry, maxFileSize int64, devMode bool) *Handler {
	return &Handler{
		service:     service,
		registry:    registry,
		maxFileSize: maxFileSize,
		devMode:     devMode,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/uploadfiles", h.UploadFiles)
	r.POST("/processfolders", h.ProcessFolders)
	r.GET("/health", h.Health)
}

// UploadFiles accepts a multipart batch of asset files. With session
// headers present it is one chunk of a chunked upload; without them the
// whole bundle lands in a fresh folder and the pipeline runs right away.
func (h *Handler) UploadFiles(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid multipart body")
		return
	}

	var files []*multipart.FileHeader
	for _, fhs := range form.File {
		files = append(files, fhs...)
	}
	if len(files) == 0 {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "No files in request")
		return
	}

	// The size gate runs before a single byte reaches session storage, so
	// a rejected request leaves no partial artifact behind.
	for _, fh := range files {
		if fh.Size > h.maxFileSize {
			response.Error(c, http.StatusBadRequest, "PAYLOAD_TOO_LARGE", "File is too large. Maximum size is 2GB")
			return
		}
	}

	if c.GetHeader(headerSessionID) != "" {
		h.handleChunk(c, files)
		return
	}
	h.handleDirect(c, files)
}

func (h *Handler) handleChunk(c *gin.Context, files []*multipart.FileHeader) {
	sessionID := c.GetHeader(headerSessionID)
	chunkIndex, errIdx := strconv.Atoi(c.GetHeader(headerChunkIndex))
	totalChunks, errTotal := strconv.Atoi(c.GetHeader(headerTotalChunks))
	if errIdx != nil || errTotal != nil || totalChunks <= 0 || chunkIndex < 0 || chunkIndex >= totalChunks {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid chunk headers")
		return
	}

	sess, err := h.registry.Ensure(sessionID, totalChunks)
	if err != nil {
		if errors.Is(err, session.ErrSessionMismatch) {
			response.Error(c, http.StatusBadRequest, "SESSION_MISMATCH", "Total chunk count differs from the session's")
			return
		}
		h.writeServerError(c, err)
		return
	}

	chunkDir := filepath.Join(sess.TempRoot, strconv.Itoa(chunkIndex))
	for _, fh := range files {
		dst := filepath.Join(chunkDir, categoryFor(fh), filepath.Base(fh.Filename))
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			h.writeServerError(c, err)
			return
		}
	}

	received, complete, err := h.registry.MarkReceived(sessionID, chunkIndex)
	if err != nil {
		h.writeServerError(c, err)
		return
	}

	if !complete {
		c.JSON(http.StatusOK, ChunkAck{
			Message:  "Chunk received",
			Progress: float64(received) / float64(totalChunks) * 100,
		})
		return
	}

	res, err := h.service.CompleteSession(c.Request.Context(), sessionID)
	if err != nil {
		h.writeServerError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) handleDirect(c *gin.Context, files []*multipart.FileHeader) {
	num, dir, err := h.service.AllocateFolder()
	if err != nil {
		h.writeServerError(c, err)
		return
	}

	for _, fh := range files {
		dst := filepath.Join(dir, categoryFor(fh), filepath.Base(fh.Filename))
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			h.writeServerError(c, err)
			return
		}
	}

	res, err := h.service.ProcessFolder(c.Request.Context(), uuid.NewString(), num)
	if err != nil {
		h.writeServerError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ProcessFolders is the collaborator path: run the pipeline over every
// numeric folder already present under the assets dir.
func (h *Handler) ProcessFolders(c *gin.Context) {
	if err := h.service.ProcessExisting(c.Request.Context()); err != nil {
		h.writeServerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Folders processed successfully."})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:         "ok",
		Timestamp:      time.Now().UTC(),
		ActiveSessions: h.registry.Len(),
	})
}

// categoryFor groups video with images, everything else is metadata.
func categoryFor(fh *multipart.FileHeader) string {
	ct := fh.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "image/") || ct == "video/mp4" {
		return "images"
	}
	return "metadata"
}

func (h *Handler) writeServerError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "PIPELINE_ERROR"
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		status, code = http.StatusBadRequest, "UNKNOWN_SESSION"
	case errors.Is(err, session.ErrSessionMismatch):
		status, code = http.StatusBadRequest, "SESSION_MISMATCH"
	case errors.Is(err, ErrPayloadTooLarge):
		status, code = http.StatusBadRequest, "PAYLOAD_TOO_LARGE"
	}

	if h.devMode && status >= http.StatusInternalServerError {
		response.ErrorWithStack(c, status, code, err.Error(), string(debug.Stack()))
		return
	}
	response.Error(c, status, code, err.Error())
}
