package api

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"userprofile/internal/profile"
)

const (
	maxUploadBytes = 10 << 20
	// multipart framing on top of the file itself
	maxBodyBytes = maxUploadBytes + 1<<20
)

type profileRequest struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Address     string `json:"address"`
	PhoneNumber string `json:"phone_number"`
}

func (h *Handler) getProfile(c *gin.Context) {
	userID, _, ok := h.caller(c)
	if !ok {
		return
	}
	view, err := h.profiles.View(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) saveProfile(c *gin.Context) {
	userID, sessionID, ok := h.caller(c)
	if !ok {
		return
	}
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	saved, err := h.profiles.Save(c.Request.Context(), userID, sessionID, profile.Fields{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Address:     req.Address,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *Handler) uploadPicture(c *gin.Context) {
	userID, sessionID, ok := h.caller(c)
	if !ok {
		return
	}
	file, name, ok := h.formFile(c)
	if !ok {
		return
	}
	if file != nil {
		defer file.Close()
	}
	result, err := h.profiles.UploadProfilePicture(c.Request.Context(), userID, sessionID, readerOrNil(file), name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": result.URL, "progress": result.Progress})
}

func (h *Handler) uploadDocument(c *gin.Context) {
	userID, sessionID, ok := h.caller(c)
	if !ok {
		return
	}
	file, name, ok := h.formFile(c)
	if !ok {
		return
	}
	if file != nil {
		defer file.Close()
	}
	result, err := h.profiles.UploadDocument(c.Request.Context(), userID, sessionID, readerOrNil(file), name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"file": result.File, "progress": result.Progress})
}

// formFile opens the "file" part of a multipart upload. A missing part is not
// an error here: it yields a nil file so the service reports it.
func (h *Handler) formFile(c *gin.Context) (multipart.File, string, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	header, err := c.FormFile("file")
	if err != nil {
		switch {
		case isTooLarge(err):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return nil, "", false
		case errors.Is(err, http.ErrMissingFile):
			return nil, "", true
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
			return nil, "", false
		}
	}
	if header.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return nil, "", false
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return nil, "", false
	}
	return file, header.Filename, true
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

func readerOrNil(f multipart.File) io.Reader {
	if f == nil {
		return nil
	}
	return f
}

func (h *Handler) downloadFile(c *gin.Context) {
	userID, _, ok := h.caller(c)
	if !ok {
		return
	}
	dl, err := h.profiles.DownloadFile(c.Request.Context(), userID, c.Param("name"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", dl.ContentDisposition)
	c.Data(http.StatusOK, dl.ContentType, dl.Data)
}

func (h *Handler) deleteFile(c *gin.Context) {
	userID, _, ok := h.caller(c)
	if !ok {
		return
	}
	if err := h.profiles.DeleteFile(c.Request.Context(), userID, c.Param("name")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// serveUpload renders a stored file inline, for the owner only.
func (h *Handler) serveUpload(c *gin.Context) {
	userID, _, ok := h.caller(c)
	if !ok {
		return
	}
	if c.Param("userId") != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	name := c.Param("name")
	dl, err := h.profiles.DownloadFile(c.Request.Context(), userID, name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Cache-Control", "private, no-cache")
	c.Data(http.StatusOK, servedContentType(dl.FileName, dl.Data), dl.Data)
}

// servedContentType sniffs the stored bytes first: the picture always carries a
// .jpg name whatever format was uploaded. The extension is only a fallback.
func servedContentType(name string, data []byte) string {
	if sniffed := http.DetectContentType(data); sniffed != "application/octet-stream" {
		return sniffed
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
