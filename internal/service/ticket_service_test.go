package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/psds-microservice/ticketform-service/internal/errs"
	"github.com/psds-microservice/ticketform-service/internal/formschema"
	"github.com/psds-microservice/ticketform-service/internal/kafka"
	"github.com/psds-microservice/ticketform-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ticketNumberPattern = regexp.MustCompile(`^T\d{8}[0-9A-F]{8}$`)

func TestTicketService_Create(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("valid document is normalized and audited", func(t *testing.T) {
		in := validComplaint()
		in.Set("complainant_name", "  Li Lei  ")
		in.Set("test_results", []any{
			map[string]any{"pci": "301", "rsrp": "-95.5", "interference_level": "高"},
		})
		in.Set("legacy_ref", "A-17")

		res, err := env.tickets.CreateTicket(ctx, "alice", CreateTicketInput{
			TicketTypeID: env.typeID,
			Title:        " indoor signal ",
			FormData:     in,
		})
		require.NoError(t, err)

		tk := res.Ticket
		assert.Regexp(t, ticketNumberPattern, tk.TicketNumber)
		assert.Equal(t, model.TicketStatusDraft, tk.Status)
		assert.Equal(t, model.PriorityNormal, tk.Priority)
		assert.Equal(t, "indoor signal", tk.Title)
		assert.Equal(t, 1, tk.Version)
		assert.Equal(t, []formschema.Issue{{Code: formschema.CodeUnknownField, Field: "legacy_ref"}}, res.Warnings)

		stored, err := env.tickets.GetTicket(ctx, tk.ID)
		require.NoError(t, err)
		name, _ := stored.FormData.Get("complainant_name")
		assert.Equal(t, "Li Lei", name)
		ref, _ := stored.FormData.Get("legacy_ref")
		assert.Equal(t, "A-17", ref)
		rows, _ := stored.FormData.Get("test_results")
		assert.Equal(t, []any{map[string]any{"pci": 301.0, "rsrp": -95.5, "interference_level": "高"}},
			stored.FormData.ToMap()["test_results"])
		assert.Len(t, rows, 1)

		logs, err := env.tickets.ListAuditLogs(ctx, tk.ID)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, model.AuditCreate, logs[0].Action)
		assert.Equal(t, "alice", logs[0].Actor)
		assert.Equal(t, 0, logs[0].OldValues.Len())

		assert.Eventually(t, func() bool { return env.events.has(kafka.EventTicketCreated) }, time.Second, 10*time.Millisecond)
	})

	t.Run("missing required fields reported together", func(t *testing.T) {
		_, err := env.tickets.CreateTicket(ctx, "alice", CreateTicketInput{
			TicketTypeID: env.typeID,
			FormData:     doc("district", "Chaoyang", "complaint_type", "天气"),
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, formschema.ErrValidationFailed)
		errList, _, ok := formschema.Issues(err)
		require.True(t, ok)
		fields := make([]string, len(errList))
		for i, is := range errList {
			fields[i] = is.Field
		}
		assert.Equal(t, []string{"complainant_name", "complaint_type", "complaint_content"}, fields)

		var n int64
		require.NoError(t, env.db.Model(&model.Ticket{}).Where("title = ?", "").Count(&n).Error)
		assert.Zero(t, n)
	})

	t.Run("inactive type", func(t *testing.T) {
		_, err := env.schemas.SetTicketTypeActive(ctx, env.typeID, false)
		require.NoError(t, err)
		defer func() { _, _ = env.schemas.SetTicketTypeActive(ctx, env.typeID, true) }()

		_, err = env.tickets.CreateTicket(ctx, "alice", CreateTicketInput{TicketTypeID: env.typeID, FormData: validComplaint()})
		assert.ErrorIs(t, err, formschema.ErrSchemaNotFound)
		assert.ErrorIs(t, err, errs.ErrTicketTypeInactive)
	})

	t.Run("bad priority", func(t *testing.T) {
		_, err := env.tickets.CreateTicket(ctx, "alice", CreateTicketInput{
			TicketTypeID: env.typeID, Priority: "asap", FormData: validComplaint(),
		})
		assert.ErrorIs(t, err, errs.ErrInvalidPriority)
	})
}

func TestTicketService_UpdateMergesPatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tk := env.createTicket(t)

	status := model.TicketStatusSubmitted
	res, err := env.tickets.UpdateTicket(ctx, "bob", tk.ID, UpdateTicketInput{
		Status:   &status,
		FormData: doc("district", "Chaoyang", "handling_status", "处理中"),
	})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 2, res.Ticket.Version)
	assert.Equal(t, model.TicketStatusSubmitted, res.Ticket.Status)

	data := res.Ticket.FormData.ToMap()
	assert.Equal(t, "Li Lei", data["complainant_name"])
	assert.Equal(t, "No signal indoors", data["complaint_content"])
	assert.Equal(t, "Chaoyang", data["district"])
	assert.Equal(t, "处理中", data["handling_status"])

	logs, err := env.tickets.ListAuditLogs(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	upd := logs[1]
	assert.Equal(t, model.AuditUpdate, upd.Action)
	assert.Equal(t, map[string]any{
		"status":    "draft",
		"form_data": map[string]any{"district": "Haidian", "handling_status": nil},
	}, upd.OldValues.ToMap())
	assert.Equal(t, map[string]any{
		"status":    "submitted",
		"form_data": map[string]any{"district": "Chaoyang", "handling_status": "处理中"},
	}, upd.NewValues.ToMap())

	assert.Eventually(t, func() bool { return env.events.has(kafka.EventTicketUpdated) }, time.Second, 10*time.Millisecond)
}

func TestTicketService_UpdatePersistsExplicitNull(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tk := env.createTicket(t)
	require.False(t, tk.FormData.Has("phone"))

	res, err := env.tickets.UpdateTicket(ctx, "bob", tk.ID, UpdateTicketInput{FormData: doc("phone", nil)})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, tk.Version+1, res.Ticket.Version)

	stored, err := env.tickets.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, stored.FormData.Has("phone"))
	assert.Equal(t, res.Ticket.FormData.Keys(), stored.FormData.Keys())
}

func TestTicketService_UpdateRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tk := env.createTicket(t)

	title := "changed title"
	_, err := env.tickets.UpdateTicket(ctx, "bob", tk.ID, UpdateTicketInput{
		Title:    &title,
		FormData: doc("district", "Xicheng", "complaint_type", "not-an-option"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, formschema.ErrMergeRejected)

	stored, err := env.tickets.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.Version, stored.Version)
	assert.Equal(t, "signal complaint", stored.Title)
	district, _ := stored.FormData.Get("district")
	assert.Equal(t, "Haidian", district)

	logs, err := env.tickets.ListAuditLogs(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestTicketService_UpdateGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tk := env.createTicket(t)

	t.Run("stale version", func(t *testing.T) {
		v := tk.Version + 5
		_, err := env.tickets.UpdateTicket(ctx, "bob", tk.ID, UpdateTicketInput{
			FormData: doc("district", "X"), ExpectedVersion: &v,
		})
		assert.ErrorIs(t, err, errs.ErrConcurrentUpdate)
	})

	t.Run("invalid status", func(t *testing.T) {
		s := model.TicketStatus("archived")
		_, err := env.tickets.UpdateTicket(ctx, "bob", tk.ID, UpdateTicketInput{Status: &s})
		assert.ErrorIs(t, err, errs.ErrInvalidStatus)
	})

	t.Run("missing ticket", func(t *testing.T) {
		_, err := env.tickets.UpdateTicket(ctx, "bob", 9999, UpdateTicketInput{FormData: doc("district", "X")})
		assert.ErrorIs(t, err, errs.ErrTicketNotFound)
	})

	t.Run("no-op patch keeps version", func(t *testing.T) {
		res, err := env.tickets.UpdateTicket(ctx, "bob", tk.ID, UpdateTicketInput{FormData: doc("district", " Haidian ")})
		require.NoError(t, err)
		assert.False(t, res.Changed)
		assert.Equal(t, tk.Version, res.Ticket.Version)
	})

	t.Run("required fields not enforced on partial update", func(t *testing.T) {
		res, err := env.tickets.UpdateTicket(ctx, "bob", tk.ID, UpdateTicketInput{FormData: doc("phone", "13800000000")})
		require.NoError(t, err)
		assert.True(t, res.Changed)
	})
}

func TestTicketService_SchemaChangesApplyImmediately(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tk := env.createTicket(t)

	_, err := env.schemas.AddField(ctx, env.typeID, FieldInput{
		Name: "site_visit", Label: "Site Visit", Type: formschema.TypeDate,
	})
	require.NoError(t, err)

	res, err := env.tickets.UpdateTicket(ctx, "bob", tk.ID, UpdateTicketInput{FormData: doc("site_visit", "2024/03/05")})
	require.NoError(t, err)
	v, _ := res.Ticket.FormData.Get("site_visit")
	assert.Equal(t, "2024-03-05", v)

	require.NoError(t, env.schemas.RetireField(ctx, env.typeID, "district"))
	res, err = env.tickets.UpdateTicket(ctx, "bob", tk.ID, UpdateTicketInput{FormData: doc("district", 42.0)})
	require.NoError(t, err, "retired field is an unknown key now, any value passes")
	assert.Contains(t, res.Warnings, formschema.Issue{Code: formschema.CodeUnknownField, Field: "district"})
	d, _ := res.Ticket.FormData.Get("district")
	assert.Equal(t, 42.0, d)
}

func TestTicketService_ConcurrentPatchesBothSurvive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tk := env.createTicket(t)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for _, p := range []*formschema.Document{doc("phone", "123"), doc("address", "Room 5")} {
		wg.Add(1)
		go func(p *formschema.Document) {
			defer wg.Done()
			_, err := env.tickets.UpdateTicket(ctx, "bob", tk.ID, UpdateTicketInput{FormData: p})
			errCh <- err
		}(p)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	stored, err := env.tickets.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, stored.FormData.Has("phone"))
	assert.True(t, stored.FormData.Has("address"))
	assert.Equal(t, 3, stored.Version)
}

func TestTicketService_Delete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tk := env.createTicket(t)
	_, err := env.ocr.AddImage(ctx, tk.ID, ImageInput{OriginalName: "a.png"})
	require.NoError(t, err)

	require.NoError(t, env.tickets.DeleteTicket(ctx, "admin", tk.ID))

	_, err = env.tickets.GetTicket(ctx, tk.ID)
	assert.ErrorIs(t, err, errs.ErrTicketNotFound)
	var images int64
	require.NoError(t, env.db.Model(&model.Image{}).Where("ticket_id = ?", tk.ID).Count(&images).Error)
	assert.Zero(t, images)

	logs, err := env.tickets.ListAuditLogs(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.AuditDelete, logs[1].Action)
	num, _ := logs[1].OldValues.Get("ticket_number")
	assert.Equal(t, tk.TicketNumber, num)

	err = env.tickets.DeleteTicket(ctx, "admin", tk.ID)
	assert.True(t, errors.Is(err, errs.ErrTicketNotFound))
}

func TestTicketService_List(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.createTicket(t)
	b := env.createTicket(t)
	status := model.TicketStatusCompleted
	_, err := env.tickets.UpdateTicket(ctx, "bob", b.ID, UpdateTicketInput{Status: &status})
	require.NoError(t, err)

	items, total, err := env.tickets.ListTickets(ctx, TicketFilter{TicketTypeID: env.typeID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, items, 2)

	items, total, err = env.tickets.ListTickets(ctx, TicketFilter{Status: model.TicketStatusCompleted})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, b.ID, items[0].ID)

	items, _, err = env.tickets.ListTickets(ctx, TicketFilter{Search: a.TicketNumber[len(a.TicketNumber)-8:]})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)

	items, total, err = env.tickets.ListTickets(ctx, TicketFilter{Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, items, 1)

	byNumber, err := env.tickets.GetTicketByNumber(ctx, a.TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, a.ID, byNumber.ID)
}

func TestTicketService_Revalidate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	clean := env.createTicket(t)
	drifted := env.createTicket(t)

	bad := drifted.FormData.Clone()
	bad.Set("complaint_type", "obsolete option")
	require.NoError(t, env.db.Model(&model.Ticket{}).Where("id = ?", drifted.ID).Update("form_data", *bad).Error)

	report, err := env.tickets.Revalidate(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Drifted, 1)
	assert.Equal(t, drifted.ID, report.Drifted[0].TicketID)
	assert.Equal(t, formschema.CodeInvalidFieldValue, report.Drifted[0].Errors[0].Code)
	assert.NotEqual(t, clean.ID, report.Drifted[0].TicketID)
}

type gatedProducer struct {
	recordingProducer
	gate chan struct{}
}

func (p *gatedProducer) ProduceTicketEvent(ctx context.Context, event, key string, payload map[string]any) {
	<-p.gate
	p.recordingProducer.ProduceTicketEvent(ctx, event, key, payload)
}

func TestTicketService_DrainWaitsForEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	events := &gatedProducer{gate: make(chan struct{})}
	svc := NewTicketService(env.db, env.schemas, events)

	_, err := svc.CreateTicket(ctx, "alice", CreateTicketInput{TicketTypeID: env.typeID, FormData: validComplaint()})
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Drain(short), context.DeadlineExceeded)
	assert.Empty(t, events.names())

	close(events.gate)
	require.NoError(t, svc.Drain(ctx))
	assert.Equal(t, []string{kafka.EventTicketCreated}, events.names())
}
