package service

import (
	"context"
	"sync"
	"testing"

	"github.com/psds-microservice/ticketform-service/internal/formschema"
	"github.com/psds-microservice/ticketform-service/internal/model"
	"github.com/psds-microservice/ticketform-service/internal/ocrclient"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	// одно соединение: у каждого соединения :memory: своя база
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(model.All()...))
	return db
}

type recordedEvent struct {
	Event   string
	Key     string
	Payload map[string]any
}

type recordingProducer struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingProducer) ProduceTicketEvent(_ context.Context, event, key string, payload map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Event: event, Key: key, Payload: payload})
}

func (p *recordingProducer) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Event
	}
	return out
}

func (p *recordingProducer) has(event string) bool {
	for _, n := range p.names() {
		if n == event {
			return true
		}
	}
	return false
}

type fakeEngine struct {
	recognize func(ctx context.Context, bucket, objectKey string) (*ocrclient.Result, error)
}

func (f *fakeEngine) Recognize(ctx context.Context, bucket, objectKey string) (*ocrclient.Result, error) {
	return f.recognize(ctx, bucket, objectKey)
}

type testEnv struct {
	db      *gorm.DB
	schemas *SchemaService
	tickets *TicketService
	ocr     *OCRService
	imports *ImportService
	events  *recordingProducer
	typeID  uint
}

// newTestEnv поднимает сервисы на SQLite и заводит тип "complaint".
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	events := &recordingProducer{}
	schemas := NewSchemaService(db)
	tickets := NewTicketService(db, schemas, events)
	env := &testEnv{
		db:      db,
		schemas: schemas,
		tickets: tickets,
		ocr:     NewOCRService(db, tickets, nil, OCRConfig{Bucket: "uploads", MaxImagesPerTicket: 3}),
		imports: NewImportService(db, tickets, 5),
		events:  events,
	}
	tt, created, err := schemas.SeedComplaintType(context.Background())
	require.NoError(t, err)
	require.True(t, created)
	env.typeID = tt.ID
	return env
}

func doc(kv ...any) *formschema.Document {
	d := formschema.NewDocument()
	for i := 0; i+1 < len(kv); i += 2 {
		d.Set(kv[i].(string), kv[i+1])
	}
	return d
}

func validComplaint() *formschema.Document {
	return doc(
		"complainant_name", "Li Lei",
		"complaint_content", "No signal indoors",
		"district", "Haidian",
	)
}

func (e *testEnv) createTicket(t *testing.T) *model.Ticket {
	t.Helper()
	res, err := e.tickets.CreateTicket(context.Background(), "tester", CreateTicketInput{
		TicketTypeID: e.typeID,
		Title:        "signal complaint",
		FormData:     validComplaint(),
	})
	require.NoError(t, err)
	return res.Ticket
}
