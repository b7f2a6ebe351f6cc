// ABOUTME: Object storage endpoints for avatar uploads and public reads
// ABOUTME: Uploads are answered with the public URL the object is served from

package gateway

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Danieldaguy/Chatroom-Testing/internal/blob"
)

// UploadResponse is the body of a successful upload.
type UploadResponse struct {
	Key string `json:"Key"`
	URL string `json:"url"`
}

// handleUpload serves POST/PUT /storage/v1/object/{bucket}/{key}.
func (g *Gateway) handleUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket, key := vars["bucket"], vars["key"]

	if err := blob.ValidateKey(bucket, key); err != nil {
		g.metrics.uploads.WithLabelValues("invalid").Inc()
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, blob.MaxObjectSize))
	if err != nil {
		g.metrics.uploads.WithLabelValues("too_large").Inc()
		sendJSONError(w, http.StatusRequestEntityTooLarge, blob.ErrTooLarge.Error())
		return
	}
	if len(data) == 0 {
		g.metrics.uploads.WithLabelValues("invalid").Inc()
		sendJSONError(w, http.StatusBadRequest, "empty upload")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	if err := g.blobs.Put(r.Context(), bucket, key, data, contentType); err != nil {
		g.metrics.uploads.WithLabelValues("error").Inc()
		g.logger.Error("upload failed", "bucket", bucket, "key", key, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	g.metrics.uploads.WithLabelValues("ok").Inc()
	g.logger.Info("object uploaded", "bucket", bucket, "key", key, "size", len(data))

	writeJSON(w, http.StatusOK, UploadResponse{
		Key: bucket + "/" + key,
		URL: blob.PublicURL(g.config.Server.BaseURL, bucket, key),
	})
}

// handleGetObject serves GET /storage/v1/object/public/{bucket}/{key}.
func (g *Gateway) handleGetObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket, key := vars["bucket"], vars["key"]

	if err := blob.ValidateKey(bucket, key); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	obj, err := g.blobs.Get(r.Context(), bucket, key)
	if errors.Is(err, blob.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "object not found")
		return
	}
	if err != nil {
		g.logger.Error("reading object", "bucket", bucket, "key", key, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "read failed")
		return
	}
	defer obj.Body.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		g.logger.Debug("object copy interrupted", "key", key, "error", err)
	}
}
