package service

import (
	"context"
	"fmt"

	"github.com/psds-microservice/ticketform-service/internal/formschema"
	"github.com/psds-microservice/ticketform-service/internal/model"
)

// DriftEntry: тикет, чьи сохранённые данные расходятся с текущей схемой его типа.
type DriftEntry struct {
	TicketID     uint               `json:"ticket_id"`
	TicketNumber string             `json:"ticket_number"`
	TicketTypeID uint               `json:"ticket_type_id"`
	Errors       []formschema.Issue `json:"errors"`
	Warnings     []formschema.Issue `json:"warnings"`
}

type DriftReport struct {
	Checked int          `json:"checked"`
	Drifted []DriftEntry `json:"drifted"`
}

const revalidateBatch = 200

// Revalidate перепроверяет form_data всех тикетов (partial: обязательность не проверяется)
// по текущим схемам. Только чтение; typeID == 0 означает все типы.
func (s *TicketService) Revalidate(ctx context.Context, typeID uint) (*DriftReport, error) {
	report := &DriftReport{Drifted: []DriftEntry{}}
	schemas := map[uint]*formschema.Schema{}
	var lastID uint
	for {
		var batch []model.Ticket
		q := s.db.WithContext(ctx).Where("id > ?", lastID).Order("id").Limit(revalidateBatch)
		if typeID != 0 {
			q = q.Where("ticket_type_id = ?", typeID)
		}
		if err := q.Find(&batch).Error; err != nil {
			return nil, fmt.Errorf("list tickets: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for i := range batch {
			t := &batch[i]
			lastID = t.ID
			schema, ok := schemas[t.TicketTypeID]
			if !ok {
				var err error
				if schema, err = s.schemas.GetSchema(ctx, t.TicketTypeID); err != nil {
					return nil, err
				}
				schemas[t.TicketTypeID] = schema
			}
			report.Checked++
			rep := formschema.Validate(schema, &t.FormData, formschema.ModePartial)
			if len(rep.Errors) == 0 && len(rep.Warnings) == 0 {
				continue
			}
			report.Drifted = append(report.Drifted, DriftEntry{
				TicketID:     t.ID,
				TicketNumber: t.TicketNumber,
				TicketTypeID: t.TicketTypeID,
				Errors:       rep.Errors,
				Warnings:     rep.Warnings,
			})
		}
	}
	s.log.Info("revalidation finished", "checked", report.Checked, "drifted", len(report.Drifted))
	return report, nil
}
