package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/ticketform-service/internal/errs"
	"github.com/psds-microservice/ticketform-service/internal/formschema"
	"github.com/psds-microservice/ticketform-service/internal/logger"
)

// ActorHeader: идентификатор пользователя, проставляется шлюзом аутентификации.
const ActorHeader = "X-User-ID"

const anonymousActor = "anonymous"

func actor(c *gin.Context) string {
	if v := strings.TrimSpace(c.GetHeader(ActorHeader)); v != "" {
		return v
	}
	return anonymousActor
}

func parseID(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return 0, false
	}
	return uint(id), true
}

func badBody(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body", "details": err.Error()})
}

// writeError маппит ошибки сервисов в HTTP-ответ.
func writeError(c *gin.Context, err error) {
	if errList, warnings, ok := formschema.Issues(err); ok {
		msg := formschema.ErrValidationFailed.Error()
		if errors.Is(err, formschema.ErrMergeRejected) {
			msg = formschema.ErrMergeRejected.Error()
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": msg, "errors": errList, "warnings": warnings})
		return
	}
	switch {
	case errors.Is(err, errs.ErrTicketNotFound),
		errors.Is(err, errs.ErrTicketTypeNotFound),
		errors.Is(err, errs.ErrImageNotFound),
		errors.Is(err, errs.ErrOCRResultNotFound),
		errors.Is(err, errs.ErrFieldNotFound),
		errors.Is(err, formschema.ErrSchemaNotFound): // в т.ч. неактивный тип
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrTicketTypeExists),
		errors.Is(err, errs.ErrFieldExists),
		errors.Is(err, errs.ErrConcurrentUpdate),
		errors.Is(err, errs.ErrImageLimit):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrInvalidFieldDefinition),
		errors.Is(err, errs.ErrInvalidStatus),
		errors.Is(err, errs.ErrInvalidPriority):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrImportTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrOCRUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.WithComponent("handler").Error("request failed",
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
