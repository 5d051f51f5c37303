package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/homework-tutor-backend/internal/http/middleware"
	"github.com/tbourn/homework-tutor-backend/internal/storage"
)

// UploadImageResponse is the stored image.
type UploadImageResponse struct {
	URL string `json:"url"`
	// Uploaded is false when identical bytes were already stored.
	Uploaded    bool   `json:"uploaded"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// UploadImage godoc
// @ID          uploadImage
// @Summary     Upload a question or homework photo
// @Description Stores the image under its content hash and returns its public URL.
// @Tags        Uploads
// @Accept      multipart/form-data
// @Produce     json
// @Param       file  formData  file  true  "Image (jpeg, png, webp, gif or bmp)"
// @Success     201  {object} handlers.UploadImageResponse
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     413  {object} handlers.ErrorResponse
// @Failure     415  {object} handlers.ErrorResponse
// @Failure     502  {object} handlers.ErrorResponse
// @Security    BearerAuth
// @Router      /uploads/images [post]
func (h *Handlers) UploadImage(c *gin.Context) {
	if h.Store == nil {
		unavailable(c, "uploads")
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "image too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field \"file\" required")
		return
	}
	if fh.Size > h.MaxImageBytes {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "image too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable upload")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.MaxImageBytes+1))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable upload")
		return
	}
	if int64(len(data)) > h.MaxImageBytes {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "image too large")
		return
	}

	// Trust the bytes, not the part header.
	ct := http.DetectContentType(data)
	if !storage.Allowed(ct) {
		fail(c, http.StatusUnsupportedMediaType, ErrCodeUnsupportedMedia, "unsupported image type "+ct)
		return
	}

	url, uploaded, err := storage.Put(c.Request.Context(), h.Store, data, ct)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Str("content_type", ct).Msg("image upload failed")
		fail(c, http.StatusBadGateway, ErrCodeUploadFailed, "upload failed")
		return
	}
	ok(c, http.StatusCreated, UploadImageResponse{URL: url, Uploaded: uploaded, ContentType: ct, Size: int64(len(data))})
}
