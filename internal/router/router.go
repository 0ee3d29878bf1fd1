package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	"github.com/psds-microservice/ticketform-service/api"
	"github.com/psds-microservice/ticketform-service/internal/handler"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const PathAPIV1 = "/api/v1"

type Handlers struct {
	TicketTypes *handler.TicketTypeHandler
	Tickets     *handler.TicketHandler
	Images      *handler.ImageHandler
	DB          handler.Pinger
}

func New(h Handlers) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(paths.PathHealth, handler.Health)
	r.GET(paths.PathReady, handler.Ready(h.DB))
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(paths.PathSwagger+"/openapi.json"))(c)
	})

	v1 := r.Group(PathAPIV1)
	{
		v1.GET("/ticket-types", h.TicketTypes.List)
		v1.POST("/ticket-types", h.TicketTypes.Create)
		v1.GET("/ticket-types/:id", h.TicketTypes.Get)
		v1.PATCH("/ticket-types/:id/active", h.TicketTypes.SetActive)
		v1.GET("/ticket-types/:id/fields", h.TicketTypes.ListFields)
		v1.POST("/ticket-types/:id/fields", h.TicketTypes.AddField)
		v1.PUT("/ticket-types/:id/fields/order", h.TicketTypes.ReorderFields)
		v1.PATCH("/ticket-types/:id/fields/:name", h.TicketTypes.UpdateField)
		v1.DELETE("/ticket-types/:id/fields/:name", h.TicketTypes.RetireField)
		v1.POST("/ticket-types/:id/validate", h.TicketTypes.Validate)
		v1.POST("/ticket-types/:id/import", h.TicketTypes.Import)

		v1.POST("/tickets", h.Tickets.Create)
		v1.GET("/tickets", h.Tickets.List)
		v1.GET("/tickets/by-number/:number", h.Tickets.GetByNumber)
		v1.GET("/tickets/:id", h.Tickets.Get)
		v1.PUT("/tickets/:id", h.Tickets.Update)
		v1.DELETE("/tickets/:id", h.Tickets.Delete)
		v1.GET("/tickets/:id/audit", h.Tickets.Audit)
		v1.POST("/tickets/:id/images", h.Tickets.AddImage)
		v1.GET("/tickets/:id/images", h.Tickets.ListImages)
		v1.GET("/tickets/:id/ocr", h.Tickets.OCRData)
		v1.POST("/tickets/:id/apply-ocr", h.Tickets.ApplyOCR)

		v1.PUT("/images/:id", h.Images.Update)
		v1.DELETE("/images/:id", h.Images.Delete)
		v1.GET("/images/:id/results", h.Images.LatestResult)
		v1.POST("/images/:id/ocr", h.Images.Process)
		v1.POST("/images/:id/ocr-results", h.Images.RecordResult)
	}

	return r
}
