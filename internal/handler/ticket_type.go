package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/ticketform-service/internal/formschema"
	"github.com/psds-microservice/ticketform-service/internal/service"
)

// TicketTypeHandler: администрирование типов тикетов и их полей, dry-run валидация, импорт.
type TicketTypeHandler struct {
	schemas *service.SchemaService
	imports *service.ImportService
}

func NewTicketTypeHandler(schemas *service.SchemaService, imports *service.ImportService) *TicketTypeHandler {
	return &TicketTypeHandler{schemas: schemas, imports: imports}
}

func (h *TicketTypeHandler) List(c *gin.Context) {
	includeInactive, _ := strconv.ParseBool(c.Query("include_inactive"))
	items, err := h.schemas.ListTicketTypes(c.Request.Context(), includeInactive)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket_types": items, "total": len(items)})
}

func (h *TicketTypeHandler) Create(c *gin.Context) {
	var req service.CreateTicketTypeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	tt, err := h.schemas.CreateTicketType(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tt)
}

func (h *TicketTypeHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	tt, err := h.schemas.GetTicketType(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tt)
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func (h *TicketTypeHandler) SetActive(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	tt, err := h.schemas.SetTicketTypeActive(c.Request.Context(), id, *req.IsActive)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tt)
}

func (h *TicketTypeHandler) ListFields(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	includeRetired, _ := strconv.ParseBool(c.Query("include_retired"))
	fields, err := h.schemas.ListFields(c.Request.Context(), id, includeRetired)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fields": fields})
}

func (h *TicketTypeHandler) AddField(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req service.FieldInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	f, err := h.schemas.AddField(c.Request.Context(), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (h *TicketTypeHandler) UpdateField(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req service.FieldPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	f, err := h.schemas.UpdateField(c.Request.Context(), id, c.Param("name"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (h *TicketTypeHandler) RetireField(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.schemas.RetireField(c.Request.Context(), id, c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type reorderRequest struct {
	Fields []string `json:"fields" binding:"required,min=1"`
}

func (h *TicketTypeHandler) ReorderFields(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	fields, err := h.schemas.ReorderFields(c.Request.Context(), id, req.Fields)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fields": fields})
}

type validateRequest struct {
	FormData *formschema.Document `json:"form_data" binding:"required"`
}

// Validate: проверка документа без сохранения. mode=full|partial, по умолчанию full.
// Ответ всегда 200: valid, нормализованный документ, ошибки и предупреждения.
func (h *TicketTypeHandler) Validate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	mode, err := formschema.ParseMode(c.Query("mode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	schema, err := h.schemas.GetSchema(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	rep := formschema.Validate(schema, req.FormData, mode)
	c.JSON(http.StatusOK, gin.H{
		"valid":    rep.OK(),
		"mode":     mode.String(),
		"document": rep.Document,
		"errors":   rep.Errors,
		"warnings": rep.Warnings,
	})
}

type importRequest struct {
	Rows []service.ImportRow `json:"rows" binding:"required"`
}

func (h *TicketTypeHandler) Import(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	res, err := h.imports.ImportRows(c.Request.Context(), actor(c), id, req.Rows)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
