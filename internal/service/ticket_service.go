package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/ticketform-service/internal/database"
	"github.com/psds-microservice/ticketform-service/internal/errs"
	"github.com/psds-microservice/ticketform-service/internal/formschema"
	"github.com/psds-microservice/ticketform-service/internal/kafka"
	"github.com/psds-microservice/ticketform-service/internal/logger"
	"github.com/psds-microservice/ticketform-service/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TicketService: жизненный цикл тикета: создание с полной валидацией формы,
// частичные обновления через Merge под блокировкой строки, журнал аудита.
type TicketService struct {
	db      *gorm.DB
	schemas *SchemaService
	events  kafka.TicketEventProducer
	log     *slog.Logger
	now     func() time.Time
	// pending: события, ещё не отданные продюсеру
	pending sync.WaitGroup
}

func NewTicketService(db *gorm.DB, schemas *SchemaService, events kafka.TicketEventProducer) *TicketService {
	return &TicketService{
		db:      db,
		schemas: schemas,
		events:  events,
		log:     logger.WithComponent("service.ticket"),
		now:     time.Now,
	}
}

type CreateTicketInput struct {
	TicketTypeID uint
	Title        string
	Priority     model.TicketPriority
	Assignee     string
	FormData     *formschema.Document
}

// CreateResult: созданный тикет и предупреждения валидации (неизвестные ключи и т.п.).
type CreateResult struct {
	Ticket   *model.Ticket      `json:"ticket"`
	Warnings []formschema.Issue `json:"warnings"`
}

// UpdateTicketInput: nil означает «не менять».
type UpdateTicketInput struct {
	Title           *string
	Status          *model.TicketStatus
	Priority        *model.TicketPriority
	Assignee        *string
	FormData        *formschema.Document
	ExpectedVersion *int
}

type UpdateResult struct {
	Ticket   *model.Ticket      `json:"ticket"`
	Changed  bool               `json:"changed"`
	Warnings []formschema.Issue `json:"warnings"`
}

type TicketFilter struct {
	TicketTypeID uint
	Status       model.TicketStatus
	Assignee     string
	Search       string
	Limit        int
	Offset       int
}

func (s *TicketService) CreateTicket(ctx context.Context, actor string, in CreateTicketInput) (*CreateResult, error) {
	var res *CreateResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = s.createInTx(tx, actor, in, model.AuditCreate)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("ticket created", "ticket_id", res.Ticket.ID, "ticket_number", res.Ticket.TicketNumber,
		"ticket_type_id", res.Ticket.TicketTypeID, "warnings", len(res.Warnings))
	s.publish(kafka.EventTicketCreated, res.Ticket, nil)
	return res, nil
}

func (s *TicketService) createInTx(tx *gorm.DB, actor string, in CreateTicketInput, action model.AuditAction) (*CreateResult, error) {
	priority := in.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: %q", errs.ErrInvalidPriority, priority)
	}
	schema, err := loadSchema(tx, in.TicketTypeID, true)
	if err != nil {
		return nil, err
	}
	rep := formschema.Validate(schema, in.FormData, formschema.ModeFull)
	if err := rep.Err(); err != nil {
		s.log.Debug("ticket rejected by validation", "ticket_type_id", in.TicketTypeID, "errors", len(rep.Errors))
		return nil, err
	}
	t := &model.Ticket{
		TicketNumber: s.newTicketNumber(),
		TicketTypeID: in.TicketTypeID,
		Title:        strings.TrimSpace(in.Title),
		Status:       model.TicketStatusDraft,
		Priority:     priority,
		Assignee:     in.Assignee,
		CreatedBy:    actor,
		FormData:     *rep.Document,
		Version:      1,
	}
	if err := tx.Create(t).Error; err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	newValues := formschema.NewDocument()
	newValues.Set("ticket_number", t.TicketNumber)
	newValues.Set("status", string(t.Status))
	newValues.Set("priority", string(t.Priority))
	newValues.Set("form_data", rep.Document.Clone())
	if err := writeAudit(tx, t.ID, action, actor, formschema.NewDocument(), newValues); err != nil {
		return nil, err
	}
	return &CreateResult{Ticket: t, Warnings: rep.Warnings}, nil
}

func (s *TicketService) GetTicket(ctx context.Context, id uint) (*model.Ticket, error) {
	var t model.Ticket
	if err := s.db.WithContext(ctx).Preload("Images", orderedImages).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *TicketService) GetTicketByNumber(ctx context.Context, number string) (*model.Ticket, error) {
	var t model.Ticket
	if err := s.db.WithContext(ctx).Preload("Images", orderedImages).Where("ticket_number = ?", number).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *TicketService) ListTickets(ctx context.Context, f TicketFilter) ([]model.Ticket, int64, error) {
	var items []model.Ticket
	var total int64
	tx := s.db.WithContext(ctx).Model(&model.Ticket{})
	if f.TicketTypeID != 0 {
		tx = tx.Where("ticket_type_id = ?", f.TicketTypeID)
	}
	if f.Status != "" {
		tx = tx.Where("status = ?", f.Status)
	}
	if f.Assignee != "" {
		tx = tx.Where("assignee = ?", f.Assignee)
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		tx = tx.Where("LOWER(title) LIKE ? OR LOWER(ticket_number) LIKE ?", like, like)
	}
	// Count total before pagination
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Limit > 0 {
		tx = tx.Limit(f.Limit)
	}
	if f.Offset > 0 {
		tx = tx.Offset(f.Offset)
	}
	if err := tx.Order("created_at DESC, id DESC").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *TicketService) UpdateTicket(ctx context.Context, actor string, id uint, in UpdateTicketInput) (*UpdateResult, error) {
	if in.Status != nil && !in.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", errs.ErrInvalidStatus, *in.Status)
	}
	if in.Priority != nil && !in.Priority.Valid() {
		return nil, fmt.Errorf("%w: %q", errs.ErrInvalidPriority, *in.Priority)
	}
	res, err := s.mutate(ctx, id, in.ExpectedVersion, model.AuditUpdate, actor, func(tx *gorm.DB, t *model.Ticket) (*mutation, error) {
		m := newMutation()
		if in.Title != nil {
			m.setAttr("title", t.Title, strings.TrimSpace(*in.Title))
		}
		if in.Status != nil {
			m.setAttr("status", string(t.Status), string(*in.Status))
		}
		if in.Priority != nil {
			m.setAttr("priority", string(t.Priority), string(*in.Priority))
		}
		if in.Assignee != nil {
			m.setAttr("assignee", t.Assignee, *in.Assignee)
		}
		if in.FormData != nil && in.FormData.Len() > 0 {
			if err := m.mergeDocument(tx, t, in.FormData); err != nil {
				return nil, err
			}
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return &UpdateResult{Ticket: res.ticket, Changed: res.changed, Warnings: res.warnings}, nil
}

// DeleteTicket удаляет тикет вместе с изображениями и результатами OCR. Журнал аудита сохраняется.
func (s *TicketService) DeleteTicket(ctx context.Context, actor string, id uint) error {
	var t model.Ticket
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockTicket(tx, id, &t); err != nil {
			return err
		}
		imageIDs := tx.Model(&model.Image{}).Select("id").Where("ticket_id = ?", id)
		if err := tx.Where("image_id IN (?)", imageIDs).Delete(&model.OCRResult{}).Error; err != nil {
			return fmt.Errorf("delete ocr results: %w", err)
		}
		if err := tx.Where("ticket_id = ?", id).Delete(&model.Image{}).Error; err != nil {
			return fmt.Errorf("delete images: %w", err)
		}
		if err := tx.Delete(&model.Ticket{}, id).Error; err != nil {
			return fmt.Errorf("delete ticket: %w", err)
		}
		oldValues := formschema.NewDocument()
		oldValues.Set("ticket_number", t.TicketNumber)
		oldValues.Set("status", string(t.Status))
		oldValues.Set("form_data", t.FormData.Clone())
		return writeAudit(tx, id, model.AuditDelete, actor, oldValues, formschema.NewDocument())
	})
	if err != nil {
		return err
	}
	s.log.Info("ticket deleted", "ticket_id", id, "ticket_number", t.TicketNumber)
	s.publish(kafka.EventTicketDeleted, &t, nil)
	return nil
}

func (s *TicketService) ListAuditLogs(ctx context.Context, ticketID uint) ([]model.AuditLog, error) {
	var logs []model.AuditLog
	if err := s.db.WithContext(ctx).Where("ticket_id = ?", ticketID).Order("created_at, id").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// mutation собирает изменения тикета внутри транзакции: колонки для UPDATE и снимки для аудита.
type mutation struct {
	updates  map[string]any
	old      *formschema.Document
	new      *formschema.Document
	changed  bool
	warnings []formschema.Issue
	// extra уходит в событие Kafka.
	extra map[string]any
}

func newMutation() *mutation {
	return &mutation{
		updates:  map[string]any{},
		old:      formschema.NewDocument(),
		new:      formschema.NewDocument(),
		warnings: []formschema.Issue{},
	}
}

func (m *mutation) setAttr(column, before, after string) {
	m.old.Set(column, before)
	m.new.Set(column, after)
	if before != after {
		m.updates[column] = after
		m.changed = true
	}
}

// mergeDocument накладывает patch на form_data тикета по текущей схеме его типа.
// Отклонённый patch возвращает *formschema.MergeRejectedError, тикет не меняется.
func (m *mutation) mergeDocument(tx *gorm.DB, t *model.Ticket, patch *formschema.Document) error {
	schema, err := loadSchema(tx, t.TicketTypeID, false)
	if err != nil {
		return err
	}
	res, err := formschema.Merge(&t.FormData, patch, schema)
	if err != nil {
		return err
	}
	m.warnings = append(m.warnings, res.Warnings...)
	m.old.Set("form_data", res.Old)
	m.new.Set("form_data", res.New)
	if res.Changed() {
		m.updates["form_data"] = *res.Document
		m.changed = true
	}
	return nil
}

type mutateResult struct {
	ticket   *model.Ticket
	changed  bool
	warnings []formschema.Issue
	extra    map[string]any
}

// mutate: единый путь записи: блокировка строки, проверка версии, fn, UPDATE с version+1, аудит.
// Изменения без фактической разницы не пишутся и версию не увеличивают.
func (s *TicketService) mutate(ctx context.Context, id uint, expectedVersion *int, action model.AuditAction, actor string,
	fn func(tx *gorm.DB, t *model.Ticket) (*mutation, error)) (*mutateResult, error) {
	var (
		t model.Ticket
		m *mutation
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockTicket(tx, id, &t); err != nil {
			return err
		}
		if expectedVersion != nil && *expectedVersion != t.Version {
			return fmt.Errorf("%w: expected version %d, current %d", errs.ErrConcurrentUpdate, *expectedVersion, t.Version)
		}
		var err error
		if m, err = fn(tx, &t); err != nil {
			return err
		}
		if !m.changed {
			return nil
		}
		m.updates["version"] = t.Version + 1
		m.updates["updated_at"] = s.now().UTC()
		res := tx.Model(&model.Ticket{}).Where("id = ? AND version = ?", t.ID, t.Version).Updates(m.updates)
		if res.Error != nil {
			return fmt.Errorf("update ticket: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.ErrConcurrentUpdate
		}
		if err := writeAudit(tx, t.ID, action, actor, m.old, m.new); err != nil {
			return err
		}
		return tx.First(&t, t.ID).Error
	})
	if err != nil {
		var rej *formschema.MergeRejectedError
		if errors.As(err, &rej) {
			s.log.Info("ticket patch rejected", "ticket_id", id, "errors", len(rej.Errors))
		}
		return nil, err
	}
	if m.changed {
		s.log.Info("ticket updated", "ticket_id", t.ID, "action", action, "version", t.Version)
		s.publish(eventFor(action), &t, m.extra)
	}
	return &mutateResult{ticket: &t, changed: m.changed, warnings: m.warnings, extra: m.extra}, nil
}

// lockTicket читает тикет с FOR UPDATE на Postgres; SQLite сериализует запись сам.
func lockTicket(tx *gorm.DB, id uint, t *model.Ticket) error {
	q := tx
	if database.IsPostgres(tx) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrTicketNotFound
		}
		return err
	}
	return nil
}

func writeAudit(tx *gorm.DB, ticketID uint, action model.AuditAction, actor string, oldValues, newValues *formschema.Document) error {
	entry := &model.AuditLog{
		TicketID:  ticketID,
		Action:    action,
		Actor:     actor,
		OldValues: *oldValues,
		NewValues: *newValues,
	}
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("write audit: %w", err)
	}
	return nil
}

func orderedImages(db *gorm.DB) *gorm.DB {
	return db.Order("display_order, id")
}

func eventFor(action model.AuditAction) string {
	if action == model.AuditOCRApply {
		return kafka.EventTicketOCRApplied
	}
	return kafka.EventTicketUpdated
}

// publish отправляет событие в фоне, чтобы недоступная Kafka не задерживала ответ API.
func (s *TicketService) publish(event string, t *model.Ticket, extra map[string]any) {
	if s.events == nil {
		return
	}
	payload := map[string]any{
		"ticket_id":      t.ID,
		"ticket_number":  t.TicketNumber,
		"ticket_type_id": t.TicketTypeID,
		"status":         string(t.Status),
		"priority":       string(t.Priority),
		"version":        t.Version,
	}
	for k, v := range extra {
		payload[k] = v
	}
	key := t.TicketNumber
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.events.ProduceTicketEvent(ctx, event, key, payload)
	}()
}

// Drain ждёт фоновые публикации событий. Вызывать до закрытия продюсера.
func (s *TicketService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newTicketNumber: T<yyyymmdd><8 hex>, например T20240305A1B2C3D4.
func (s *TicketService) newTicketNumber() string {
	id := uuid.New()
	return fmt.Sprintf("T%s%X", s.now().UTC().Format("20060102"), id[:4])
}
