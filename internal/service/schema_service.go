package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/psds-microservice/ticketform-service/internal/errs"
	"github.com/psds-microservice/ticketform-service/internal/formschema"
	"github.com/psds-microservice/ticketform-service/internal/logger"
	"github.com/psds-microservice/ticketform-service/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SchemaService: хранилище схем: типы тикетов и их поля. Схема всегда читается из БД,
// поэтому изменение поля видно следующей валидации сразу после коммита.
type SchemaService struct {
	db       *gorm.DB
	validate *validator.Validate
	log      *slog.Logger
}

func NewSchemaService(db *gorm.DB) *SchemaService {
	return &SchemaService{
		db:       db,
		validate: validator.New(),
		log:      logger.WithComponent("service.schema"),
	}
}

type CreateTicketTypeInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=2000"`
}

type FieldInput struct {
	Name         string                `json:"field_name" validate:"required,max=100"`
	Label        string                `json:"field_label" validate:"required,max=200"`
	Type         formschema.FieldType  `json:"field_type" validate:"required"`
	Options      []string              `json:"options,omitempty" validate:"omitempty,dive,required"`
	ArrayFields  []formschema.SubField `json:"array_fields,omitempty"`
	Required     bool                  `json:"is_required"`
	DisplayOrder *int                  `json:"display_order,omitempty" validate:"omitempty,gte=0"`
}

// FieldPatch: изменяемые атрибуты поля. Имя и тип неизменны.
type FieldPatch struct {
	Label        *string                `json:"field_label,omitempty" validate:"omitempty,min=1,max=200"`
	Options      *[]string              `json:"options,omitempty"`
	ArrayFields  *[]formschema.SubField `json:"array_fields,omitempty"`
	Required     *bool                  `json:"is_required,omitempty"`
	DisplayOrder *int                   `json:"display_order,omitempty" validate:"omitempty,gte=0"`
}

func (s *SchemaService) CreateTicketType(ctx context.Context, in CreateTicketTypeInput) (*model.TicketType, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidFieldDefinition, err)
	}
	tt := &model.TicketType{Name: in.Name, Description: in.Description, IsActive: true}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.TicketType{}).Where("name = ?", in.Name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return errs.ErrTicketTypeExists
		}
		return tx.Create(tt).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("ticket type created", "ticket_type_id", tt.ID, "name", tt.Name)
	return tt, nil
}

func (s *SchemaService) ListTicketTypes(ctx context.Context, includeInactive bool) ([]model.TicketType, error) {
	var items []model.TicketType
	tx := s.db.WithContext(ctx).Preload("Fields", liveFields)
	if !includeInactive {
		tx = tx.Where("is_active = ?", true)
	}
	if err := tx.Order("id").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list ticket types: %w", err)
	}
	return items, nil
}

// GetTicketType возвращает тип с живыми полями в порядке отображения.
func (s *SchemaService) GetTicketType(ctx context.Context, id uint) (*model.TicketType, error) {
	var tt model.TicketType
	if err := s.db.WithContext(ctx).Preload("Fields", liveFields).First(&tt, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketTypeNotFound
		}
		return nil, err
	}
	return &tt, nil
}

func (s *SchemaService) GetTicketTypeByName(ctx context.Context, name string) (*model.TicketType, error) {
	var tt model.TicketType
	if err := s.db.WithContext(ctx).Preload("Fields", liveFields).Where("name = ?", name).First(&tt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketTypeNotFound
		}
		return nil, err
	}
	return &tt, nil
}

// SetTicketTypeActive: мягкое выключение/включение типа. Существующие тикеты остаются редактируемыми.
func (s *SchemaService) SetTicketTypeActive(ctx context.Context, id uint, active bool) (*model.TicketType, error) {
	res := s.db.WithContext(ctx).Model(&model.TicketType{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errs.ErrTicketTypeNotFound
	}
	s.log.Info("ticket type activity changed", "ticket_type_id", id, "active", active)
	return s.GetTicketType(ctx, id)
}

func (s *SchemaService) ListFields(ctx context.Context, typeID uint, includeRetired bool) ([]model.FormField, error) {
	if err := s.typeExists(s.db.WithContext(ctx), typeID); err != nil {
		return nil, err
	}
	var fields []model.FormField
	tx := s.db.WithContext(ctx).Where("ticket_type_id = ?", typeID)
	if !includeRetired {
		tx = tx.Where("retired_at IS NULL")
	}
	if err := tx.Order("display_order, id").Find(&fields).Error; err != nil {
		return nil, err
	}
	return fields, nil
}

func (s *SchemaService) AddField(ctx context.Context, typeID uint, in FieldInput) (*model.FormField, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidFieldDefinition, err)
	}
	def := formschema.Field{
		Name:     in.Name,
		Label:    in.Label,
		Type:     in.Type,
		Config:   formschema.FieldConfig{Options: in.Options, ArrayFields: in.ArrayFields},
		Required: in.Required,
	}
	if err := def.Check(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidFieldDefinition, err)
	}
	cfg, err := encodeConfig(def.Config)
	if err != nil {
		return nil, err
	}
	f := &model.FormField{
		TicketTypeID: typeID,
		FieldName:    in.Name,
		FieldLabel:   in.Label,
		FieldType:    in.Type,
		Config:       cfg,
		IsRequired:   in.Required,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.typeExists(tx, typeID); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&model.FormField{}).
			Where("ticket_type_id = ? AND field_name = ? AND retired_at IS NULL", typeID, in.Name).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return errs.ErrFieldExists
		}
		if in.DisplayOrder != nil {
			f.DisplayOrder = *in.DisplayOrder
		} else {
			var maxOrder sql.NullInt64
			if err := tx.Model(&model.FormField{}).
				Where("ticket_type_id = ? AND retired_at IS NULL", typeID).
				Select("MAX(display_order)").Row().Scan(&maxOrder); err != nil {
				return err
			}
			f.DisplayOrder = int(maxOrder.Int64) + 1
		}
		return tx.Create(f).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("field added", "ticket_type_id", typeID, "field", f.FieldName, "type", f.FieldType)
	return f, nil
}

func (s *SchemaService) UpdateField(ctx context.Context, typeID uint, name string, patch FieldPatch) (*model.FormField, error) {
	if err := s.validate.Struct(patch); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidFieldDefinition, err)
	}
	var f model.FormField
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.typeExists(tx, typeID); err != nil {
			return err
		}
		if err := findLiveField(tx, typeID, name, &f); err != nil {
			return err
		}
		def, err := fieldFromModel(f)
		if err != nil {
			return err
		}
		if patch.Label != nil {
			def.Label = *patch.Label
		}
		if patch.Options != nil {
			def.Config.Options = *patch.Options
		}
		if patch.ArrayFields != nil {
			def.Config.ArrayFields = *patch.ArrayFields
		}
		if patch.Required != nil {
			def.Required = *patch.Required
		}
		if patch.DisplayOrder != nil {
			def.DisplayOrder = *patch.DisplayOrder
		}
		if err := def.Check(); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrInvalidFieldDefinition, err)
		}
		cfg, err := encodeConfig(def.Config)
		if err != nil {
			return err
		}
		f.FieldLabel = def.Label
		f.Config = cfg
		f.IsRequired = def.Required
		f.DisplayOrder = def.DisplayOrder
		return tx.Model(&f).Select("field_label", "config", "is_required", "display_order", "updated_at").Updates(&f).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("field updated", "ticket_type_id", typeID, "field", name)
	return &f, nil
}

// ReorderFields присваивает display_order 1..n в переданном порядке.
// Список должен совпадать с набором живых полей типа.
func (s *SchemaService) ReorderFields(ctx context.Context, typeID uint, names []string) ([]model.FormField, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.typeExists(tx, typeID); err != nil {
			return err
		}
		var live []model.FormField
		if err := tx.Where("ticket_type_id = ? AND retired_at IS NULL", typeID).Find(&live).Error; err != nil {
			return err
		}
		byName := make(map[string]uint, len(live))
		for _, f := range live {
			byName[f.FieldName] = f.ID
		}
		if len(names) != len(live) {
			return fmt.Errorf("%w: order must list all %d live fields, got %d", errs.ErrInvalidFieldDefinition, len(live), len(names))
		}
		seen := make(map[string]bool, len(names))
		for _, n := range names {
			if _, ok := byName[n]; !ok || seen[n] {
				return fmt.Errorf("%w: unknown or repeated field %q in order", errs.ErrInvalidFieldDefinition, n)
			}
			seen[n] = true
		}
		for i, n := range names {
			if err := tx.Model(&model.FormField{}).Where("id = ?", byName[n]).Update("display_order", i+1).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.ListFields(ctx, typeID, false)
}

// RetireField выводит поле из схемы. Значения в тикетах остаются и дальше проходят как неизвестные ключи.
func (s *SchemaService) RetireField(ctx context.Context, typeID uint, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.typeExists(tx, typeID); err != nil {
			return err
		}
		var f model.FormField
		if err := findLiveField(tx, typeID, name, &f); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.Model(&f).Update("retired_at", &now).Error; err != nil {
			return err
		}
		s.log.Info("field retired", "ticket_type_id", typeID, "field", name)
		return nil
	})
}

// GetSchema возвращает схему типа независимо от активности.
func (s *SchemaService) GetSchema(ctx context.Context, typeID uint) (*formschema.Schema, error) {
	return loadSchema(s.db.WithContext(ctx), typeID, false)
}

// SchemaForCreate: схема для создания тикета: неактивный тип считается отсутствующим.
func (s *SchemaService) SchemaForCreate(ctx context.Context, typeID uint) (*formschema.Schema, error) {
	return loadSchema(s.db.WithContext(ctx), typeID, true)
}

func (s *SchemaService) typeExists(tx *gorm.DB, id uint) error {
	var n int64
	if err := tx.Model(&model.TicketType{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrTicketTypeNotFound
	}
	return nil
}

func liveFields(db *gorm.DB) *gorm.DB {
	return db.Where("retired_at IS NULL").Order("display_order, id")
}

func findLiveField(tx *gorm.DB, typeID uint, name string, out *model.FormField) error {
	err := tx.Where("ticket_type_id = ? AND field_name = ? AND retired_at IS NULL", typeID, name).First(out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.ErrFieldNotFound
	}
	return err
}

// loadSchema собирает formschema.Schema из живых полей типа внутри переданного соединения/транзакции.
func loadSchema(tx *gorm.DB, typeID uint, requireActive bool) (*formschema.Schema, error) {
	var tt model.TicketType
	if err := tx.Preload("Fields", liveFields).First(&tt, typeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: ticket type %d", formschema.ErrSchemaNotFound, typeID)
		}
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if requireActive && !tt.IsActive {
		return nil, fmt.Errorf("%w: %w: %q", formschema.ErrSchemaNotFound, errs.ErrTicketTypeInactive, tt.Name)
	}
	fields := make([]formschema.Field, 0, len(tt.Fields))
	for _, f := range tt.Fields {
		def, err := fieldFromModel(f)
		if err != nil {
			return nil, err
		}
		fields = append(fields, def)
	}
	return formschema.NewSchema(tt.ID, tt.Name, tt.IsActive, fields)
}

func fieldFromModel(f model.FormField) (formschema.Field, error) {
	cfg, err := formschema.ParseFieldConfig(f.Config)
	if err != nil {
		return formschema.Field{}, fmt.Errorf("field %q: %w", f.FieldName, err)
	}
	return formschema.Field{
		ID:           f.ID,
		Name:         f.FieldName,
		Label:        f.FieldLabel,
		Type:         f.FieldType,
		Config:       cfg,
		Required:     f.IsRequired,
		DisplayOrder: f.DisplayOrder,
	}, nil
}

func encodeConfig(cfg formschema.FieldConfig) (datatypes.JSON, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode field config: %w", err)
	}
	return datatypes.JSON(b), nil
}
