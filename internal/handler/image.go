package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/ticketform-service/internal/service"
)

type ImageHandler struct {
	ocr *service.OCRService
}

func NewImageHandler(ocr *service.OCRService) *ImageHandler {
	return &ImageHandler{ocr: ocr}
}

// Process запускает распознавание через OCR-движок; 503, если движок не настроен.
func (h *ImageHandler) Process(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	r, err := h.ocr.ProcessImage(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// RecordResult сохраняет результат, полученный вне сервиса.
func (h *ImageHandler) RecordResult(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req service.OCRInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	r, err := h.ocr.RecordOCRResult(c.Request.Context(), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *ImageHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req service.ImagePatch
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	if req.DisplayOrder == nil && req.Metadata == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no changes"})
		return
	}
	img, err := h.ocr.UpdateImage(c.Request.Context(), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, img)
}

func (h *ImageHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.ocr.DeleteImage(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// LatestResult: 404, если изображение ещё не распознавалось.
func (h *ImageHandler) LatestResult(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	r, err := h.ocr.LatestResult(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
