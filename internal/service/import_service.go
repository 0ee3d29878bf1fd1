package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/psds-microservice/ticketform-service/internal/errs"
	"github.com/psds-microservice/ticketform-service/internal/formschema"
	"github.com/psds-microservice/ticketform-service/internal/kafka"
	"github.com/psds-microservice/ticketform-service/internal/logger"
	"github.com/psds-microservice/ticketform-service/internal/model"
	"gorm.io/gorm"
)

// ImportService: пакетная загрузка строк формы: создание новых тикетов или слияние в существующие.
type ImportService struct {
	db      *gorm.DB
	tickets *TicketService
	maxRows int
	log     *slog.Logger
}

func NewImportService(db *gorm.DB, tickets *TicketService, maxRows int) *ImportService {
	return &ImportService{
		db:      db,
		tickets: tickets,
		maxRows: maxRows,
		log:     logger.WithComponent("service.import"),
	}
}

// ImportRow: строка пакета. Без TicketNumber создаётся новый тикет, иначе Fields сливаются в существующий.
type ImportRow struct {
	TicketNumber string               `json:"ticket_number,omitempty"`
	Title        string               `json:"title,omitempty"`
	Priority     model.TicketPriority `json:"priority,omitempty"`
	Fields       *formschema.Document `json:"fields"`
}

type ImportRowResult struct {
	Row          int                `json:"row"`
	Success      bool               `json:"success"`
	Created      bool               `json:"created"`
	TicketID     uint               `json:"ticket_id,omitempty"`
	TicketNumber string             `json:"ticket_number,omitempty"`
	Error        string             `json:"error,omitempty"`
	Errors       []formschema.Issue `json:"errors,omitempty"`
	Warnings     []formschema.Issue `json:"warnings,omitempty"`
}

type ImportResult struct {
	Total      int               `json:"total"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Rows       []ImportRowResult `json:"rows"`
}

// ImportRows обрабатывает строки по одной, каждую в своей транзакции. Ошибка строки
// не останавливает пакет. Строки нумеруются с 1.
func (s *ImportService) ImportRows(ctx context.Context, actor string, typeID uint, rows []ImportRow) (*ImportResult, error) {
	if len(rows) > s.maxRows {
		return nil, fmt.Errorf("%w: %d rows, limit %d", errs.ErrImportTooLarge, len(rows), s.maxRows)
	}
	if _, err := s.tickets.schemas.GetSchema(ctx, typeID); err != nil {
		return nil, err
	}
	out := &ImportResult{Total: len(rows), Rows: make([]ImportRowResult, 0, len(rows))}
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := s.importRow(ctx, actor, typeID, row)
		r.Row = i + 1
		if r.Success {
			out.Successful++
		} else {
			out.Failed++
		}
		out.Rows = append(out.Rows, r)
	}
	s.log.Info("import finished", "ticket_type_id", typeID, "total", out.Total,
		"successful", out.Successful, "failed", out.Failed)
	return out, nil
}

func (s *ImportService) importRow(ctx context.Context, actor string, typeID uint, row ImportRow) ImportRowResult {
	number := strings.TrimSpace(row.TicketNumber)
	if number == "" {
		var res *CreateResult
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			res, err = s.tickets.createInTx(tx, actor, CreateTicketInput{
				TicketTypeID: typeID,
				Title:        row.Title,
				Priority:     row.Priority,
				FormData:     row.Fields,
			}, model.AuditImport)
			return err
		})
		if err != nil {
			return failedRow(err)
		}
		s.tickets.publish(kafka.EventTicketCreated, res.Ticket, map[string]any{"source": "import"})
		return ImportRowResult{
			Success:      true,
			Created:      true,
			TicketID:     res.Ticket.ID,
			TicketNumber: res.Ticket.TicketNumber,
			Warnings:     res.Warnings,
		}
	}

	var existing model.Ticket
	if err := s.db.WithContext(ctx).Select("id", "ticket_type_id").Where("ticket_number = ?", number).First(&existing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return failedRow(fmt.Errorf("%w: %s", errs.ErrTicketNotFound, number))
		}
		return failedRow(err)
	}
	if existing.TicketTypeID != typeID {
		return failedRow(fmt.Errorf("ticket %s belongs to ticket type %d, not %d", number, existing.TicketTypeID, typeID))
	}
	res, err := s.tickets.mutate(ctx, existing.ID, nil, model.AuditImport, actor, func(tx *gorm.DB, t *model.Ticket) (*mutation, error) {
		m := newMutation()
		if title := strings.TrimSpace(row.Title); title != "" {
			m.setAttr("title", t.Title, title)
		}
		if row.Fields != nil && row.Fields.Len() > 0 {
			if err := m.mergeDocument(tx, t, row.Fields); err != nil {
				return nil, err
			}
		}
		m.extra = map[string]any{"source": "import"}
		return m, nil
	})
	if err != nil {
		return failedRow(err)
	}
	return ImportRowResult{
		Success:      true,
		TicketID:     res.ticket.ID,
		TicketNumber: res.ticket.TicketNumber,
		Warnings:     res.warnings,
	}
}

func failedRow(err error) ImportRowResult {
	r := ImportRowResult{Error: err.Error()}
	if errList, warnings, ok := formschema.Issues(err); ok {
		r.Errors = errList
		r.Warnings = warnings
	}
	return r
}
