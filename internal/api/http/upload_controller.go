package http

import (
	"fmt"
	"log/slog"
	"math/rand"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meshcall/core/internal/chat"
	"github.com/meshcall/core/internal/config"
	"github.com/meshcall/core/internal/domain"
	"github.com/meshcall/core/internal/logging/sl"
)

// UploadController stores chat attachments on local disk and emits the
// corresponding chat message with the public file URL.
type UploadController struct {
	log  *slog.Logger
	cfg  config.UploadConfig
	chat *chat.Service
}

func NewUploadController(cfg config.UploadConfig, chatSvc *chat.Service, log *slog.Logger) *UploadController {
	if log == nil {
		log = slog.Default()
	}
	return &UploadController{log: log, cfg: cfg, chat: chatSvc}
}

func (c *UploadController) Upload(ctx *gin.Context) {
	const op = "http.upload"

	file, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > c.cfg.MaxBytes {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("file exceeds %d bytes", c.cfg.MaxBytes)})
		return
	}

	roomID := ctx.PostForm("roomId")
	senderID := ctx.PostForm("senderId")
	if roomID == "" || senderID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "roomId and senderId are required"})
		return
	}
	senderUsername := ctx.PostForm("senderUsername")

	storedName := fmt.Sprintf("%d-%d%s", time.Now().UnixMilli(), rand.Intn(1_000_000_000), filepath.Ext(file.Filename))
	dst := filepath.Join(c.cfg.Dir, storedName)
	if err := ctx.SaveUploadedFile(file, dst); err != nil {
		c.log.Error("failed to store upload", slog.String("op", op), sl.Err(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}

	msgType := domain.MessageType(ctx.PostForm("messageType"))
	if msgType == "" {
		msgType = inferMessageType(file)
	}
	fileURL := "/uploads/" + storedName

	payload, err := c.chat.Send(ctx.Request.Context(), roomID, senderID, senderUsername,
		file.Filename, msgType, fileURL, "receive_group_message")
	if err != nil {
		c.log.Error("upload message emit failed", slog.String("op", op), sl.Err(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to emit chat message"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"fileUrl": fileURL, "message": payload})
}

func inferMessageType(file *multipart.FileHeader) domain.MessageType {
	contentType := file.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "image/") {
		return domain.MessageTypeImage
	}
	return domain.MessageTypeFile
}
