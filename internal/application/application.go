package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	"github.com/psds-microservice/ticketform-service/internal/config"
	"github.com/psds-microservice/ticketform-service/internal/database"
	"github.com/psds-microservice/ticketform-service/internal/handler"
	"github.com/psds-microservice/ticketform-service/internal/kafka"
	"github.com/psds-microservice/ticketform-service/internal/logger"
	"github.com/psds-microservice/ticketform-service/internal/ocrclient"
	"github.com/psds-microservice/ticketform-service/internal/router"
	"github.com/psds-microservice/ticketform-service/internal/service"
)

// API приложение: HTTP-сервер (режим api).
type API struct {
	cfg      *config.Config
	httpSrv  *http.Server
	tickets  *service.TicketService
	producer *kafka.Producer
	log      *slog.Logger
}

// NewAPI применяет миграции, открывает БД и собирает сервисы.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log := logger.WithComponent("app")
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket)
	if !producer.Enabled() {
		log.Warn("kafka disabled, ticket events are not published")
	}
	// nil-интерфейс, а не (*Client)(nil): сервис проверяет engine == nil
	var engine ocrclient.Engine
	if cfg.OCRServiceURL != "" {
		engine = ocrclient.NewClient(cfg.OCRServiceURL)
	} else {
		log.Warn("OCR_SERVICE_URL not set, image recognition disabled")
	}

	schemas := service.NewSchemaService(db)
	tickets := service.NewTicketService(db, schemas, producer)
	ocr := service.NewOCRService(db, tickets, engine, service.OCRConfig{
		Bucket:             cfg.OCRBucket,
		MaxImagesPerTicket: cfg.MaxImagesPerTicket,
	})
	imports := service.NewImportService(db, tickets, cfg.ImportMaxRows)

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := router.New(router.Handlers{
		TicketTypes: handler.NewTicketTypeHandler(schemas, imports),
		Tickets:     handler.NewTicketHandler(tickets, ocr),
		Images:      handler.NewImageHandler(ocr),
		DB:          sqlDB,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:      cfg,
		httpSrv:  httpSrv,
		tickets:  tickets,
		producer: producer,
		log:      log,
	}, nil
}

// Run запускает HTTP-сервер, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.log.Info("HTTP server listening", "addr", a.httpSrv.Addr)
	a.log.Info("endpoints",
		"swagger", base+paths.PathSwagger,
		"health", base+paths.PathHealth,
		"ready", base+paths.PathReady,
		"api", base+router.PathAPIV1+"/")

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	// после Shutdown новых событий нет; дожидаемся отправки уже начатых
	if err := a.tickets.Drain(shutdownCtx); err != nil {
		a.log.Warn("ticket events still in flight at shutdown", "error", err)
	}
	if err := a.producer.Close(); err != nil {
		a.log.Error("kafka close", "error", err)
	}
	return runErr
}
