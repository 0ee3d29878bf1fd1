package model

import (
	"time"

	"github.com/psds-microservice/ticketform-service/internal/formschema"
	"gorm.io/datatypes"
)

type TicketStatus string

const (
	TicketStatusDraft      TicketStatus = "draft"
	TicketStatusSubmitted  TicketStatus = "submitted"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusProcessing TicketStatus = "processing"
	TicketStatusCompleted  TicketStatus = "completed"
	TicketStatusCancelled  TicketStatus = "cancelled"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusDraft, TicketStatusSubmitted, TicketStatusInProgress,
		TicketStatusProcessing, TicketStatusCompleted, TicketStatusCancelled:
		return true
	}
	return false
}

type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityNormal TicketPriority = "normal"
	PriorityHigh   TicketPriority = "high"
	PriorityUrgent TicketPriority = "urgent"
)

func (p TicketPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// TicketType: категория тикетов со своим набором полей формы.
type TicketType struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	IsActive    bool   `gorm:"not null;default:true" json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Fields []FormField `gorm:"foreignKey:TicketTypeID" json:"fields,omitempty"`
}

// FormField: описание одного поля формы. Config хранит options/array_fields.
// Поле не удаляется: RetiredAt выводит его из схемы, данные тикетов остаются.
type FormField struct {
	ID           uint                 `gorm:"primaryKey" json:"id"`
	TicketTypeID uint                 `gorm:"index;not null" json:"ticket_type_id"`
	FieldName    string               `gorm:"type:varchar(100);not null" json:"field_name"`
	FieldLabel   string               `gorm:"type:varchar(200);not null" json:"field_label"`
	FieldType    formschema.FieldType `gorm:"type:varchar(32);not null" json:"field_type"`
	Config       datatypes.JSON       `json:"config,omitempty"`
	IsRequired   bool                 `gorm:"not null;default:false" json:"is_required"`
	DisplayOrder int                  `gorm:"not null;default:0" json:"display_order"`
	RetiredAt    *time.Time           `gorm:"index" json:"retired_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Ticket struct {
	ID           uint                `gorm:"primaryKey" json:"id"`
	TicketNumber string              `gorm:"type:varchar(32);uniqueIndex;not null" json:"ticket_number"`
	TicketTypeID uint                `gorm:"index;not null" json:"ticket_type_id"`
	Title        string              `gorm:"type:varchar(255)" json:"title,omitempty"`
	Status       TicketStatus        `gorm:"type:varchar(32);index;not null" json:"status"`
	Priority     TicketPriority      `gorm:"type:varchar(32);index;not null" json:"priority"`
	Assignee     string              `gorm:"type:varchar(100);index" json:"assignee,omitempty"`
	CreatedBy    string              `gorm:"type:varchar(100)" json:"created_by,omitempty"`
	FormData     formschema.Document `gorm:"not null" json:"form_data"`
	Version      int                 `gorm:"not null;default:1" json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Images []Image `gorm:"foreignKey:TicketID" json:"images,omitempty"`
}

// Image: метаданные загруженного изображения. Сам файл лежит в объектном хранилище.
type Image struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	TicketID     uint           `gorm:"index;not null" json:"ticket_id"`
	ObjectKey    string         `gorm:"type:varchar(255);not null" json:"object_key"`
	OriginalName string         `gorm:"type:varchar(255)" json:"original_name,omitempty"`
	ContentType  string         `gorm:"type:varchar(100)" json:"content_type,omitempty"`
	Size         int64          `json:"size"`
	DisplayOrder int            `gorm:"not null;default:0" json:"display_order"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// OCRResult: результат распознавания. Только добавляется, актуален последний по CreatedAt/ID.
type OCRResult struct {
	ID             uint                                  `gorm:"primaryKey" json:"id"`
	ImageID        uint                                  `gorm:"index;not null" json:"image_id"`
	Texts          datatypes.JSONType[map[string]string] `json:"texts"`
	BBoxes         datatypes.JSON                        `gorm:"column:bboxes" json:"bboxes,omitempty"`
	RawText        string                                `gorm:"type:text" json:"raw_text,omitempty"`
	Confidence     float64                               `json:"confidence"`
	ProcessingTime float64                               `json:"processing_time"`

	CreatedAt time.Time `json:"created_at"`
}

type AuditAction string

const (
	AuditCreate   AuditAction = "create"
	AuditUpdate   AuditAction = "update"
	AuditDelete   AuditAction = "delete"
	AuditOCRApply AuditAction = "ocr_apply"
	AuditImport   AuditAction = "import"
)

// AuditLog пишется в той же транзакции, что и изменение тикета, и переживает удаление тикета.
type AuditLog struct {
	ID        uint                `gorm:"primaryKey" json:"id"`
	TicketID  uint                `gorm:"index;not null" json:"ticket_id"`
	Action    AuditAction         `gorm:"type:varchar(32);not null" json:"action"`
	Actor     string              `gorm:"type:varchar(100)" json:"actor,omitempty"`
	OldValues formschema.Document `json:"old_values"`
	NewValues formschema.Document `json:"new_values"`

	CreatedAt time.Time `json:"created_at"`
}

// All перечисляет модели для AutoMigrate в тестах.
func All() []any {
	return []any{&TicketType{}, &FormField{}, &Ticket{}, &Image{}, &OCRResult{}, &AuditLog{}}
}
