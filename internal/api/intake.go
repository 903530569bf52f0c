package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/catscan/internal/metrics"
	"github.com/dharsanguruparan/catscan/internal/model"
	"github.com/dharsanguruparan/catscan/internal/queue"
	"github.com/dharsanguruparan/catscan/internal/signing"
)

const (
	variantInline    = "inline"
	variantPresigned = "presigned"
	variantLocal     = "local"

	msgUnsupportedType = "Only JPEG and PNG files are allowed"
	msgQueueFailed     = queue.EnqueueFailedMessage
)

// uploadRequest carries both upload variants. image_data selects the inline
// variant; filename/contentType select the presigned one.
type uploadRequest struct {
	ImageData   string `json:"image_data"`
	ContentType string `json:"content_type"`
	UserID      string `json:"user_id"`

	Filename           string `json:"filename"`
	PresignContentType string `json:"contentType"`
}

// validationError is reported to the client as a 400.
type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }

func invalid(format string, args ...interface{}) error {
	return validationError{msg: fmt.Sprintf(format, args...)}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// base64 inflates by 4/3; leave room for the JSON envelope.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxImageSize*4/3+64<<10)
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(w, variantInline, invalid("Image exceeds %d bytes", s.cfg.MaxImageSize))
			return
		}
		s.reject(w, variantInline, invalid("Invalid request body"))
		return
	}

	switch {
	case req.ImageData != "":
		s.uploadInline(w, r, req)
	case req.Filename != "" || req.PresignContentType != "":
		s.uploadPresigned(w, r, req)
	default:
		s.reject(w, variantInline, invalid("Missing image_data or filename"))
	}
}

func (s *Server) uploadInline(w http.ResponseWriter, r *http.Request, req uploadRequest) {
	ctx := r.Context()
	if strings.TrimSpace(req.ContentType) == "" {
		s.reject(w, variantInline, invalid("Missing content_type"))
		return
	}
	contentType, err := s.allowedType(req.ContentType)
	if err != nil {
		s.reject(w, variantInline, err)
		return
	}
	data, err := s.decodeImage(req.ImageData, contentType)
	if err != nil {
		s.reject(w, variantInline, err)
		return
	}

	id := s.newID()
	key, err := model.ObjectKey(model.ImagePrefix, id, contentType)
	if err != nil {
		s.reject(w, variantInline, invalid(msgUnsupportedType))
		return
	}
	logger := s.logger.With("scan_id", id)

	// Store object, create record, enqueue: a crash after any prefix leaves
	// at worst an orphaned object.
	if err := s.objects.PutImage(ctx, key, data, contentType); err != nil {
		logger.Error("store image failed", "key", key, "error", err)
		s.fail(w, variantInline, "Failed to store image")
		return
	}
	scan := model.NewScan(id, key, contentType, req.UserID, time.Now())
	if err := s.records.Create(ctx, scan); err != nil {
		logger.Error("create scan failed", "error", err)
		s.fail(w, variantInline, "Failed to create scan")
		return
	}
	if err := s.queue.Enqueue(ctx, queue.DetectPayload{ScanID: id, ImageRef: key}); err != nil {
		logger.Error("enqueue detection failed", "error", err)
		s.abandon(ctx, id)
		s.fail(w, variantInline, "Failed to queue scan for processing")
		return
	}

	s.metrics.ObserveUpload(variantInline, metrics.UploadAccepted)
	logger.Info("scan accepted", "content_type", contentType, "bytes", len(data))
	respondJSON(w, http.StatusOK, map[string]string{
		"scan_id": id,
		"status":  string(model.StatusPending),
	})
}

func (s *Server) uploadPresigned(w http.ResponseWriter, r *http.Request, req uploadRequest) {
	ctx := r.Context()
	if strings.TrimSpace(req.Filename) == "" || strings.TrimSpace(req.PresignContentType) == "" {
		s.reject(w, variantPresigned, invalid("Missing filename or contentType"))
		return
	}
	contentType, err := s.allowedType(req.PresignContentType)
	if err != nil {
		s.reject(w, variantPresigned, err)
		return
	}

	id := s.newID()
	key, err := model.ObjectKey(model.UploadPrefix, id, contentType)
	if err != nil {
		s.reject(w, variantPresigned, invalid(msgUnsupportedType))
		return
	}
	logger := s.logger.With("scan_id", id)

	uploadURL, err := s.objects.PresignUpload(ctx, key, contentType, s.cfg.PresignTTL)
	if err != nil {
		logger.Error("presign upload failed", "key", key, "error", err)
		s.fail(w, variantPresigned, "Failed to create upload URL")
		return
	}
	scan := model.NewScan(id, key, contentType, req.UserID, time.Now())
	scan.Filename = path.Base(strings.ReplaceAll(req.Filename, "\\", "/"))
	if err := s.records.Create(ctx, scan); err != nil {
		logger.Error("create scan failed", "error", err)
		s.fail(w, variantPresigned, "Failed to create scan")
		return
	}

	s.metrics.ObserveUpload(variantPresigned, metrics.UploadAccepted)
	logger.Info("presigned upload issued", "content_type", contentType)
	respondJSON(w, http.StatusOK, map[string]string{
		"scanId":    id,
		"uploadUrl": uploadURL,
		"statusUrl": s.cfg.PublicBaseURL + "/status/" + id,
	})
}

// handleLocalUpload receives a PUT against a URL signed by the in-memory
// object store.
func (s *Server) handleLocalUpload(w http.ResponseWriter, r *http.Request) {
	receiver := s.objects.(Receiver)
	key := chi.URLParam(r, "*")
	if !strings.HasPrefix(key, model.UploadPrefix) {
		respondError(w, http.StatusNotFound, "Not found")
		return
	}
	contentType, err := s.allowedType(r.Header.Get("Content-Type"))
	if err != nil {
		s.reject(w, variantLocal, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxImageSize))
	if err != nil {
		s.reject(w, variantLocal, invalid("Image exceeds %d bytes", s.cfg.MaxImageSize))
		return
	}
	if len(body) == 0 {
		s.reject(w, variantLocal, invalid("Image data is empty"))
		return
	}
	err = receiver.Receive(r.Context(), key, r.URL.Query(), body, contentType)
	switch {
	case errors.Is(err, signing.ErrInvalid), errors.Is(err, signing.ErrExpired):
		s.metrics.ObserveUpload(variantLocal, metrics.UploadRejected)
		respondError(w, http.StatusForbidden, "Upload URL is invalid or expired")
		return
	case err != nil:
		s.logger.Error("local upload failed", "key", key, "error", err)
		s.fail(w, variantLocal, "Failed to store image")
		return
	}
	s.metrics.ObserveUpload(variantLocal, metrics.UploadAccepted)
	w.WriteHeader(http.StatusOK)
}

// allowedType normalizes the declared type and checks it against the
// configured whitelist.
func (s *Server) allowedType(declared string) (string, error) {
	ct := model.NormalizeContentType(declared)
	for _, allowed := range s.cfg.AllowedTypes {
		if model.NormalizeContentType(allowed) == ct {
			return ct, nil
		}
	}
	return "", invalid(msgUnsupportedType)
}

// decodeImage decodes the base64 payload (a data URL prefix is tolerated)
// and checks size and magic bytes against the declared type.
func (s *Server) decodeImage(encoded, contentType string) ([]byte, error) {
	if strings.HasPrefix(encoded, "data:") {
		if i := strings.Index(encoded, ","); i >= 0 {
			encoded = encoded[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, invalid("Invalid base64 image data")
	}
	if len(data) == 0 {
		return nil, invalid("Image data is empty")
	}
	if int64(len(data)) > s.cfg.MaxImageSize {
		return nil, invalid("Image exceeds %d bytes", s.cfg.MaxImageSize)
	}
	if sniffed := model.NormalizeContentType(http.DetectContentType(data)); sniffed != contentType {
		return nil, invalid("Image content does not match content_type %s", contentType)
	}
	return data, nil
}

// abandon marks a scan FAILED after its trigger could not be enqueued.
func (s *Server) abandon(ctx context.Context, id string) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.records.Finish(wctx, id, model.Failed{Message: msgQueueFailed}); err != nil {
		s.logger.Error("could not mark unqueued scan failed", "scan_id", id, "error", err)
	}
}

func (s *Server) reject(w http.ResponseWriter, variant string, err error) {
	s.metrics.ObserveUpload(variant, metrics.UploadRejected)
	respondError(w, http.StatusBadRequest, err.Error())
}

func (s *Server) fail(w http.ResponseWriter, variant, message string) {
	s.metrics.ObserveUpload(variant, metrics.UploadError)
	respondError(w, http.StatusInternalServerError, message)
}
