package storage

import (
	"io"
	"log"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"bayou-dm/internal/models"
	"bayou-dm/internal/utils"

	"github.com/google/uuid"
)

// imageExtensions and voiceExtensions drive attachment kind inference;
// everything else is a generic file.
var (
	imageExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	}
	voiceExtensions = map[string]bool{
		".m4a": true, ".mp3": true, ".ogg": true, ".wav": true,
	}
)

// Uploader stores message attachments on local disk and hands back the URL
// path a message row carries. An upload failure aborts the whole send; no
// message is created without its attachment.
type Uploader struct {
	dir      string
	maxBytes int64
}

func NewUploader(dir string, maxBytes int64) (*Uploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, utils.NewAppError(utils.ErrUploadFailed, "Failed to prepare the upload directory", err)
	}
	return &Uploader{dir: dir, maxBytes: maxBytes}, nil
}

// Save writes one multipart file and returns its public URL path and the
// inferred attachment kind.
func (u *Uploader) Save(file multipart.File, header *multipart.FileHeader) (string, models.AttachmentKind, error) {
	if header.Size > u.maxBytes {
		return "", "", utils.NewAppError(utils.ErrInvalidInput, "Attachment exceeds the size limit", nil)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	name := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(u.dir, name))
	if err != nil {
		return "", "", utils.NewAppError(utils.ErrUploadFailed, "Failed to store the attachment", err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, io.LimitReader(file, u.maxBytes+1))
	if err != nil {
		os.Remove(dst.Name())
		return "", "", utils.NewAppError(utils.ErrUploadFailed, "Failed to store the attachment", err)
	}
	if written > u.maxBytes {
		// The multipart header lied about the size.
		os.Remove(dst.Name())
		return "", "", utils.NewAppError(utils.ErrInvalidInput, "Attachment exceeds the size limit", nil)
	}

	log.Printf("Stored attachment %s (%d bytes)", name, written)
	return "/uploads/" + name, KindForExtension(ext), nil
}

// Dir returns the directory files are written to, for static serving.
func (u *Uploader) Dir() string { return u.dir }

// KindForExtension maps a file extension to the attachment kind.
func KindForExtension(ext string) models.AttachmentKind {
	switch {
	case imageExtensions[ext]:
		return models.AttachmentImage
	case voiceExtensions[ext]:
		return models.AttachmentVoice
	default:
		return models.AttachmentFile
	}
}
