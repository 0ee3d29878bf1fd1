package service

import (
	"context"
	"testing"

	"github.com/psds-microservice/ticketform-service/internal/errs"
	"github.com/psds-microservice/ticketform-service/internal/formschema"
	"github.com/psds-microservice/ticketform-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaService_TicketTypes(t *testing.T) {
	db := setupTestDB(t)
	svc := NewSchemaService(db)
	ctx := context.Background()

	t.Run("create and duplicate", func(t *testing.T) {
		tt, err := svc.CreateTicketType(ctx, CreateTicketTypeInput{Name: "survey", Description: "site survey"})
		require.NoError(t, err)
		assert.True(t, tt.IsActive)

		_, err = svc.CreateTicketType(ctx, CreateTicketTypeInput{Name: "survey"})
		assert.ErrorIs(t, err, errs.ErrTicketTypeExists)
	})

	t.Run("empty name rejected", func(t *testing.T) {
		_, err := svc.CreateTicketType(ctx, CreateTicketTypeInput{})
		assert.ErrorIs(t, err, errs.ErrInvalidFieldDefinition)
	})

	t.Run("deactivate hides from default list", func(t *testing.T) {
		tt, err := svc.CreateTicketType(ctx, CreateTicketTypeInput{Name: "legacy"})
		require.NoError(t, err)
		_, err = svc.SetTicketTypeActive(ctx, tt.ID, false)
		require.NoError(t, err)

		active, err := svc.ListTicketTypes(ctx, false)
		require.NoError(t, err)
		for _, a := range active {
			assert.NotEqual(t, "legacy", a.Name)
		}
		all, err := svc.ListTicketTypes(ctx, true)
		require.NoError(t, err)
		assert.Len(t, all, len(active)+1)
	})

	t.Run("missing type", func(t *testing.T) {
		_, err := svc.GetTicketType(ctx, 999)
		assert.ErrorIs(t, err, errs.ErrTicketTypeNotFound)
		_, err = svc.SetTicketTypeActive(ctx, 999, true)
		assert.ErrorIs(t, err, errs.ErrTicketTypeNotFound)
	})
}

func TestSchemaService_AddField(t *testing.T) {
	db := setupTestDB(t)
	svc := NewSchemaService(db)
	ctx := context.Background()
	tt, err := svc.CreateTicketType(ctx, CreateTicketTypeInput{Name: "survey"})
	require.NoError(t, err)

	t.Run("display order appended", func(t *testing.T) {
		a, err := svc.AddField(ctx, tt.ID, FieldInput{Name: "site", Label: "Site", Type: formschema.TypeText})
		require.NoError(t, err)
		b, err := svc.AddField(ctx, tt.ID, FieldInput{Name: "visited_on", Label: "Visited", Type: formschema.TypeDate})
		require.NoError(t, err)
		assert.Equal(t, 1, a.DisplayOrder)
		assert.Equal(t, 2, b.DisplayOrder)
	})

	t.Run("duplicate live name", func(t *testing.T) {
		_, err := svc.AddField(ctx, tt.ID, FieldInput{Name: "site", Label: "Site again", Type: formschema.TypeText})
		assert.ErrorIs(t, err, errs.ErrFieldExists)
	})

	t.Run("invalid definitions", func(t *testing.T) {
		bad := []FieldInput{
			{Name: "9lives", Label: "x", Type: formschema.TypeText},
			{Name: "x", Label: "", Type: formschema.TypeText},
			{Name: "x", Label: "X", Type: "signature"},
			{Name: "x", Label: "X", Type: formschema.TypeSelect},
			{Name: "x", Label: "X", Type: formschema.TypeArray},
			{Name: "x", Label: "X", Type: formschema.TypeArray, ArrayFields: []formschema.SubField{
				{Name: "a", Type: formschema.TypeText}, {Name: "a", Type: formschema.TypeNumber},
			}},
		}
		for _, in := range bad {
			_, err := svc.AddField(ctx, tt.ID, in)
			assert.ErrorIs(t, err, errs.ErrInvalidFieldDefinition, "%+v", in)
		}
	})

	t.Run("unknown type id", func(t *testing.T) {
		_, err := svc.AddField(ctx, 999, FieldInput{Name: "a", Label: "A", Type: formschema.TypeText})
		assert.ErrorIs(t, err, errs.ErrTicketTypeNotFound)
	})

	t.Run("retired name can be reused", func(t *testing.T) {
		require.NoError(t, svc.RetireField(ctx, tt.ID, "site"))
		_, err := svc.AddField(ctx, tt.ID, FieldInput{Name: "site", Label: "Site v2", Type: formschema.TypeTextarea})
		require.NoError(t, err)

		all, err := svc.ListFields(ctx, tt.ID, true)
		require.NoError(t, err)
		live, err := svc.ListFields(ctx, tt.ID, false)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		assert.Len(t, live, 2)
	})
}

func TestSchemaService_UpdateField(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	label := "Complaint Category"
	opts := []string{"信号问题", "其他", "计费问题"}
	required := true
	f, err := env.schemas.UpdateField(ctx, env.typeID, "complaint_type", FieldPatch{
		Label:    &label,
		Options:  &opts,
		Required: &required,
	})
	require.NoError(t, err)
	assert.Equal(t, label, f.FieldLabel)
	assert.True(t, f.IsRequired)

	schema, err := env.schemas.GetSchema(ctx, env.typeID)
	require.NoError(t, err)
	got, ok := schema.Lookup("complaint_type")
	require.True(t, ok)
	assert.Equal(t, opts, got.Config.Options)
	assert.Equal(t, formschema.TypeSelect, got.Type)

	t.Run("emptying options is invalid", func(t *testing.T) {
		empty := []string{}
		_, err := env.schemas.UpdateField(ctx, env.typeID, "complaint_type", FieldPatch{Options: &empty})
		assert.ErrorIs(t, err, errs.ErrInvalidFieldDefinition)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := env.schemas.UpdateField(ctx, env.typeID, "nope", FieldPatch{Label: &label})
		assert.ErrorIs(t, err, errs.ErrFieldNotFound)
	})
}

func TestSchemaService_ReorderFields(t *testing.T) {
	db := setupTestDB(t)
	svc := NewSchemaService(db)
	ctx := context.Background()
	tt, err := svc.CreateTicketType(ctx, CreateTicketTypeInput{Name: "survey"})
	require.NoError(t, err)
	for _, n := range []string{"a", "b", "c"} {
		_, err := svc.AddField(ctx, tt.ID, FieldInput{Name: n, Label: n, Type: formschema.TypeText})
		require.NoError(t, err)
	}

	fields, err := svc.ReorderFields(ctx, tt.ID, []string{"c", "a", "b"})
	require.NoError(t, err)
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.FieldName
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)

	schema, err := svc.GetSchema(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, schema.Names())

	_, err = svc.ReorderFields(ctx, tt.ID, []string{"c", "a"})
	assert.ErrorIs(t, err, errs.ErrInvalidFieldDefinition)
	_, err = svc.ReorderFields(ctx, tt.ID, []string{"c", "a", "a"})
	assert.ErrorIs(t, err, errs.ErrInvalidFieldDefinition)
}

func TestSchemaService_GetSchema(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	schema, err := env.schemas.GetSchema(ctx, env.typeID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"complaint_number", "district", "complainant_name", "phone", "address",
		"complaint_type", "complaint_content", "handling_status", "test_results",
	}, schema.Names())
	arr, _ := schema.Lookup("test_results")
	assert.Len(t, arr.Config.ArrayFields, 9)

	t.Run("absent type", func(t *testing.T) {
		_, err := env.schemas.GetSchema(ctx, 999)
		assert.ErrorIs(t, err, formschema.ErrSchemaNotFound)
	})

	t.Run("inactive type only blocks creation", func(t *testing.T) {
		_, err := env.schemas.SetTicketTypeActive(ctx, env.typeID, false)
		require.NoError(t, err)

		_, err = env.schemas.SchemaForCreate(ctx, env.typeID)
		assert.ErrorIs(t, err, formschema.ErrSchemaNotFound)
		s, err := env.schemas.GetSchema(ctx, env.typeID)
		require.NoError(t, err)
		assert.False(t, s.Active)

		_, err = env.schemas.SetTicketTypeActive(ctx, env.typeID, true)
		require.NoError(t, err)
	})

	t.Run("retired field leaves schema", func(t *testing.T) {
		require.NoError(t, env.schemas.RetireField(ctx, env.typeID, "phone"))
		s, err := env.schemas.GetSchema(ctx, env.typeID)
		require.NoError(t, err)
		_, ok := s.Lookup("phone")
		assert.False(t, ok)
		assert.ErrorIs(t, env.schemas.RetireField(ctx, env.typeID, "phone"), errs.ErrFieldNotFound)
	})

	t.Run("malformed stored config", func(t *testing.T) {
		require.NoError(t, env.db.Model(&model.FormField{}).
			Where("ticket_type_id = ? AND field_name = ?", env.typeID, "district").
			Update("config", `{"options":"not-a-list"}`).Error)
		_, err := env.schemas.GetSchema(ctx, env.typeID)
		assert.ErrorIs(t, err, formschema.ErrMalformedSchema)
	})
}

func TestSchemaService_SeedIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	tt, created, err := env.schemas.SeedComplaintType(context.Background())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, env.typeID, tt.ID)
	assert.Len(t, tt.Fields, 9)
}
