package main

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"principales/internal/constants"
	"principales/internal/errors"
	"principales/internal/httputil"
	"principales/internal/models"
	"principales/internal/security"
	"principales/internal/service"

	"github.com/dustin/go-humanize"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	maxMessageRunes = constants.TelegramMaxMessageRunes
	maxCaptionRunes = constants.TelegramMaxCaptionRunes

	multipartMemory = 8 << 20
	// room for the multipart framing and the text fields
	multipartOverhead = 1 << 20
)

// messageRef is a message id the web client may send as a number or a string
type messageRef int

func (m *messageRef) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid message id %q", s)
	}
	*m = messageRef(n)
	return nil
}

type sendMessageRequest struct {
	Message   string     `json:"message"`
	ReplyToID messageRef `json:"replyToId"`
}

func (r sendMessageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Message,
			validation.Required.Error("Message is required"),
			validation.RuneLength(0, maxMessageRunes).Error(fmt.Sprintf("Message must be at most %d characters", maxMessageRunes)),
		),
		validation.Field(&r.ReplyToID, validation.Min(messageRef(0))),
	)
}

type messagesResponse struct {
	Success  bool                 `json:"success"`
	Messages []models.ChatMessage `json:"messages"`
}

type sentResponse struct {
	Success bool                `json:"success"`
	Message *models.ChatMessage `json:"message,omitempty"`
}

// validationError turns ozzo field errors into a validation AppError naming
// the first failing field
func validationError(err error) error {
	var fieldErrs validation.Errors
	if stderrors.As(err, &fieldErrs) {
		fields := make([]string, 0, len(fieldErrs))
		for field := range fieldErrs {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		if len(fields) > 0 {
			return errors.NewValidationError(fields[0], fieldErrs[fields[0]].Error())
		}
	}
	return errors.NewValidationError("body", err.Error())
}

func (s *Server) handleMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := s.deps.Messages.List(r.Context())
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if msgs == nil {
			msgs = []models.ChatMessage{}
		}
		httputil.WriteJSON(w, http.StatusOK, messagesResponse{Success: true, Messages: msgs})
	}
}

// handleUpdates returns the messages stored strictly after ?since (RFC 3339).
// Without since it returns the whole history.
func (s *Server) handleUpdates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var since time.Time
		if raw := r.URL.Query().Get("since"); raw != "" {
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				httputil.WriteError(w, r, errors.NewValidationError("since", "since must be an RFC 3339 timestamp"))
				return
			}
			since = t
		}

		msgs, err := s.deps.Messages.Since(r.Context(), since)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if msgs == nil {
			msgs = []models.ChatMessage{}
		}
		httputil.WriteJSON(w, http.StatusOK, messagesResponse{Success: true, Messages: msgs})
	}
}

func (s *Server) handleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if err := decodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if err := req.Validate(); err != nil {
			httputil.WriteError(w, r, validationError(err))
			return
		}

		msg, err := s.deps.Sender.SendText(r.Context(), req.Message, service.SendOptions{ReplyToID: int(req.ReplyToID)})
		if err != nil {
			errors.LogError(s.logger.WithField(service.LogFieldURL, r.URL.Path), err, "Failed to send message from web client")
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, sentResponse{Success: true, Message: msg})
	}
}

// handleSendFile relays one multipart upload to the chat. Images go as
// photos, everything else as documents. The temp copy is always removed.
func (s *Server) handleSendFile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if stderrors.As(err, &tooLarge) {
				httputil.WriteError(w, r, s.tooLargeError())
				return
			}
			httputil.WriteError(w, r, errors.NewValidationError("file", "No file uploaded"))
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		file, header, err := r.FormFile("file")
		if err != nil {
			httputil.WriteError(w, r, errors.NewValidationError("file", "No file uploaded"))
			return
		}
		defer file.Close()

		if header.Size > s.maxUpload {
			httputil.WriteError(w, r, s.tooLargeError())
			return
		}

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !s.allowedUpload(ext) {
			httputil.WriteError(w, r, errors.NewValidationError("file",
				fmt.Sprintf("File type not allowed. Allowed: %s", strings.Join(s.config.Media.AllowedTypes, ", "))))
			return
		}

		caption := r.FormValue("caption")
		if len([]rune(caption)) > maxCaptionRunes {
			httputil.WriteError(w, r, errors.NewValidationError("caption",
				fmt.Sprintf("Caption must be at most %d characters", maxCaptionRunes)))
			return
		}
		var replyTo messageRef
		if err := replyTo.UnmarshalJSON([]byte(r.FormValue("replyToId"))); err != nil {
			httputil.WriteError(w, r, errors.NewValidationError("replyToId", "replyToId must be a message id"))
			return
		}

		tmpPath, err := s.saveTempUpload(file, header.Filename)
		if err != nil {
			errors.LogError(s.logger, err, "Failed to store upload")
			httputil.WriteError(w, r, err)
			return
		}
		defer func() {
			if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
				s.logger.WithError(err).WithField(service.LogFieldFilePath, tmpPath).Warn("Failed to remove temp upload")
			}
		}()

		log := s.logger.WithFields(logrus.Fields{
			service.LogFieldFileName: security.SafeFileName(header.Filename),
			service.LogFieldFileSize: humanize.Bytes(uint64(header.Size)),
		})

		opts := service.SendOptions{ReplyToID: int(replyTo)}
		var msg *models.ChatMessage
		if constants.PhotoExtensions[ext] {
			log.Info("Sending upload as photo")
			msg, err = s.deps.Sender.SendPhoto(r.Context(), tmpPath, caption, opts)
		} else {
			log.Info("Sending upload as document")
			msg, err = s.deps.Sender.SendDocument(r.Context(), tmpPath, caption, opts)
		}
		if err != nil {
			errors.LogError(log, err, "Failed to send file from web client")
			httputil.WriteError(w, r, err)
			return
		}

		httputil.WriteJSON(w, http.StatusOK, sentResponse{Success: true, Message: msg})
	}
}

func (s *Server) tooLargeError() error {
	return errors.NewValidationError("file",
		fmt.Sprintf("File exceeds the %s upload limit", humanize.Bytes(uint64(s.maxUpload))))
}

func (s *Server) allowedUpload(ext string) bool {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return false
	}
	for _, allowed := range s.config.Media.AllowedTypes {
		if ext == allowed {
			return true
		}
	}
	return false
}

// saveTempUpload copies the upload into the temp dir under a unique name
// that keeps the original file name, which Telegram shows for documents
func (s *Server) saveTempUpload(src io.Reader, originalName string) (string, error) {
	dir := s.config.Media.TempDir
	if dir == "" {
		dir = constants.DefaultTempUploadsDir
	}
	if err := os.MkdirAll(dir, constants.DefaultDirectoryPermissions); err != nil {
		return "", errors.NewStorageError("create temp upload dir", err)
	}

	name := uuid.NewString()[:8] + "_" + security.SafeFileName(originalName)
	if err := security.ValidateFilePathWithBase(name, dir); err != nil {
		return "", errors.NewValidationError("file", "Invalid file name")
	}
	path := filepath.Join(dir, name)

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, constants.DefaultFilePermissions)
	if err != nil {
		return "", errors.NewStorageError("create temp upload", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", errors.NewStorageError("write temp upload", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", errors.NewStorageError("write temp upload", err)
	}
	return path, nil
}
