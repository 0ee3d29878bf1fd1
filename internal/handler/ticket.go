package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/ticketform-service/internal/formschema"
	"github.com/psds-microservice/ticketform-service/internal/model"
	"github.com/psds-microservice/ticketform-service/internal/service"
)

type TicketHandler struct {
	svc *service.TicketService
	ocr *service.OCRService
}

func NewTicketHandler(svc *service.TicketService, ocr *service.OCRService) *TicketHandler {
	return &TicketHandler{svc: svc, ocr: ocr}
}

type createTicketRequest struct {
	TicketTypeID uint                 `json:"ticket_type_id" binding:"required"`
	Title        string               `json:"title"`
	Priority     model.TicketPriority `json:"priority"`
	Assignee     string               `json:"assignee"`
	FormData     *formschema.Document `json:"form_data"`
}

func (h *TicketHandler) Create(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	res, err := h.svc.CreateTicket(c.Request.Context(), actor(c), service.CreateTicketInput{
		TicketTypeID: req.TicketTypeID,
		Title:        req.Title,
		Priority:     req.Priority,
		Assignee:     req.Assignee,
		FormData:     req.FormData,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *TicketHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	t, err := h.svc.GetTicket(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// GetByNumber ищет тикет по внешнему номеру (T<yyyymmdd><hex>).
func (h *TicketHandler) GetByNumber(c *gin.Context) {
	t, err := h.svc.GetTicketByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) List(c *gin.Context) {
	filter := service.TicketFilter{
		Status:   model.TicketStatus(c.Query("status")),
		Assignee: c.Query("assignee"),
		Search:   c.Query("q"),
	}
	if v := c.Query("ticket_type_id"); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			filter.TicketTypeID = uint(parsed)
		}
	}

	// Parse limit and offset
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}

	items, total, err := h.svc.ListTickets(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tickets": items,
		"total":   total,
	})
}

type updateTicketRequest struct {
	Title           *string               `json:"title,omitempty"`
	Status          *model.TicketStatus   `json:"status,omitempty"`
	Priority        *model.TicketPriority `json:"priority,omitempty"`
	Assignee        *string               `json:"assignee,omitempty"`
	FormData        *formschema.Document  `json:"form_data,omitempty"`
	ExpectedVersion *int                  `json:"expected_version,omitempty"`
}

// Update: частичное обновление. form_data сливается с сохранённым документом, остальные ключи не трогаются.
func (h *TicketHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req updateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	if req.Title == nil && req.Status == nil && req.Priority == nil && req.Assignee == nil && req.FormData.Len() == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no changes"})
		return
	}
	res, err := h.svc.UpdateTicket(c.Request.Context(), actor(c), id, service.UpdateTicketInput{
		Title:           req.Title,
		Status:          req.Status,
		Priority:        req.Priority,
		Assignee:        req.Assignee,
		FormData:        req.FormData,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *TicketHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteTicket(c.Request.Context(), actor(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *TicketHandler) Audit(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	logs, err := h.svc.ListAuditLogs(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit_logs": logs})
}

func (h *TicketHandler) AddImage(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req service.ImageInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	img, err := h.ocr.AddImage(c.Request.Context(), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, img)
}

func (h *TicketHandler) ListImages(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	images, err := h.ocr.ListImages(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": images})
}

func (h *TicketHandler) OCRData(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	data, err := h.ocr.AvailableOCRData(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": data})
}

type applyOCRRequest struct {
	// Mapping: поле формы -> ключ в результате OCR.
	Mapping map[string]string `json:"mapping" binding:"required,min=1"`
}

func (h *TicketHandler) ApplyOCR(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req applyOCRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	res, err := h.ocr.ApplyOCR(c.Request.Context(), actor(c), id, req.Mapping)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
