package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/psds-microservice/ticketform-service/internal/errs"
	"github.com/psds-microservice/ticketform-service/internal/formschema"
	"github.com/psds-microservice/ticketform-service/internal/logger"
	"github.com/psds-microservice/ticketform-service/internal/model"
	"github.com/psds-microservice/ticketform-service/internal/ocrclient"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OCRService: изображения тикета, результаты распознавания и перенос их в форму.
type OCRService struct {
	db        *gorm.DB
	tickets   *TicketService
	engine    ocrclient.Engine
	bucket    string
	maxImages int
	log       *slog.Logger
}

type OCRConfig struct {
	Bucket             string
	MaxImagesPerTicket int
}

// NewOCRService: engine может быть nil, тогда ProcessImage возвращает ErrOCRUnavailable.
func NewOCRService(db *gorm.DB, tickets *TicketService, engine ocrclient.Engine, cfg OCRConfig) *OCRService {
	return &OCRService{
		db:        db,
		tickets:   tickets,
		engine:    engine,
		bucket:    cfg.Bucket,
		maxImages: cfg.MaxImagesPerTicket,
		log:       logger.WithComponent("service.ocr"),
	}
}

type ImageInput struct {
	OriginalName string         `json:"original_name"`
	ContentType  string         `json:"content_type"`
	Size         int64          `json:"size"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type OCRInput struct {
	Texts          map[string]string `json:"texts"`
	RawText        string            `json:"raw_text,omitempty"`
	BBoxes         json.RawMessage   `json:"bboxes,omitempty"`
	Confidence     float64           `json:"confidence"`
	ProcessingTime float64           `json:"processing_time"`
}

// ImageOCR: изображение и его последний результат OCR (nil, если распознавания не было).
type ImageOCR struct {
	Image  model.Image      `json:"image"`
	Result *model.OCRResult `json:"ocr_result"`
}

type ApplyOCRResult struct {
	Ticket   *model.Ticket         `json:"ticket"`
	Changed  bool                  `json:"changed"`
	Applied  []formschema.OCRMatch `json:"applied"`
	Skipped  []string              `json:"skipped"`
	Warnings []formschema.Issue    `json:"warnings"`
}

// AddImage регистрирует изображение тикета. Сам файл загружается во внешнее хранилище по ObjectKey.
func (s *OCRService) AddImage(ctx context.Context, ticketID uint, in ImageInput) (*model.Image, error) {
	img := &model.Image{
		TicketID:     ticketID,
		OriginalName: in.OriginalName,
		ContentType:  in.ContentType,
		Size:         in.Size,
	}
	if len(in.Metadata) > 0 {
		b, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode image metadata: %w", err)
		}
		img.Metadata = datatypes.JSON(b)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t model.Ticket
		if err := lockTicket(tx, ticketID, &t); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&model.Image{}).Where("ticket_id = ?", ticketID).Count(&n).Error; err != nil {
			return err
		}
		if int(n) >= s.maxImages {
			return fmt.Errorf("%w: at most %d images per ticket", errs.ErrImageLimit, s.maxImages)
		}
		var maxOrder sql.NullInt64
		if err := tx.Model(&model.Image{}).Where("ticket_id = ?", ticketID).
			Select("MAX(display_order)").Row().Scan(&maxOrder); err != nil {
			return err
		}
		if maxOrder.Valid {
			img.DisplayOrder = int(maxOrder.Int64) + 1
		}
		img.ObjectKey = objectKey(ticketID, in.OriginalName)
		return tx.Create(img).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("image added", "ticket_id", ticketID, "image_id", img.ID, "object_key", img.ObjectKey)
	return img, nil
}

func objectKey(ticketID uint, originalName string) string {
	return fmt.Sprintf("tickets/%d/%s%s", ticketID, uuid.NewString(), strings.ToLower(filepath.Ext(originalName)))
}

func (s *OCRService) GetImage(ctx context.Context, id uint) (*model.Image, error) {
	var img model.Image
	if err := s.db.WithContext(ctx).First(&img, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrImageNotFound
		}
		return nil, err
	}
	return &img, nil
}

// ListImages: изображения тикета в порядке отображения.
func (s *OCRService) ListImages(ctx context.Context, ticketID uint) ([]model.Image, error) {
	if _, err := s.tickets.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	var images []model.Image
	if err := s.db.WithContext(ctx).Where("ticket_id = ?", ticketID).Order("display_order, id").Find(&images).Error; err != nil {
		return nil, err
	}
	return images, nil
}

// ImagePatch: nil означает «не менять». Metadata заменяется целиком.
type ImagePatch struct {
	DisplayOrder *int           `json:"display_order"`
	Metadata     map[string]any `json:"metadata"`
}

// UpdateImage меняет порядок отображения и метаданные. Порядок решает, чьё значение
// выигрывает при ApplyOCR, поэтому запись идёт под блокировкой тикета.
func (s *OCRService) UpdateImage(ctx context.Context, id uint, in ImagePatch) (*model.Image, error) {
	var img model.Image
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockImage(tx, id, &img); err != nil {
			return err
		}
		updates := map[string]any{}
		if in.DisplayOrder != nil {
			img.DisplayOrder = *in.DisplayOrder
			updates["display_order"] = img.DisplayOrder
		}
		if in.Metadata != nil {
			b, err := json.Marshal(in.Metadata)
			if err != nil {
				return fmt.Errorf("encode image metadata: %w", err)
			}
			img.Metadata = datatypes.JSON(b)
			updates["metadata"] = img.Metadata
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&model.Image{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("image updated", "image_id", id, "display_order", img.DisplayOrder)
	return &img, nil
}

// DeleteImage удаляет изображение вместе с его результатами OCR. Файл в хранилище не трогается.
func (s *OCRService) DeleteImage(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var img model.Image
		if err := s.lockImage(tx, id, &img); err != nil {
			return err
		}
		if err := tx.Where("image_id = ?", id).Delete(&model.OCRResult{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Image{}, id).Error
	})
	if err != nil {
		return err
	}
	s.log.Info("image deleted", "image_id", id)
	return nil
}

// lockImage читает изображение и блокирует его тикет до конца транзакции.
func (s *OCRService) lockImage(tx *gorm.DB, id uint, img *model.Image) error {
	if err := tx.First(img, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrImageNotFound
		}
		return err
	}
	var t model.Ticket
	return lockTicket(tx, img.TicketID, &t)
}

// LatestResult: последний результат распознавания изображения.
func (s *OCRService) LatestResult(ctx context.Context, imageID uint) (*model.OCRResult, error) {
	if _, err := s.GetImage(ctx, imageID); err != nil {
		return nil, err
	}
	var r model.OCRResult
	err := s.db.WithContext(ctx).Where("image_id = ?", imageID).Order("created_at DESC, id DESC").First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrOCRResultNotFound
		}
		return nil, err
	}
	return &r, nil
}

// RecordOCRResult сохраняет новый результат. Старые результаты не трогаются.
func (s *OCRService) RecordOCRResult(ctx context.Context, imageID uint, in OCRInput) (*model.OCRResult, error) {
	if _, err := s.GetImage(ctx, imageID); err != nil {
		return nil, err
	}
	texts := in.Texts
	if texts == nil {
		texts = map[string]string{}
	}
	r := &model.OCRResult{
		ImageID:        imageID,
		Texts:          datatypes.NewJSONType(texts),
		RawText:        in.RawText,
		Confidence:     in.Confidence,
		ProcessingTime: in.ProcessingTime,
	}
	if len(in.BBoxes) > 0 {
		r.BBoxes = datatypes.JSON(in.BBoxes)
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, fmt.Errorf("record ocr result: %w", err)
	}
	s.log.Info("ocr result recorded", "image_id", imageID, "ocr_result_id", r.ID, "keys", len(texts))
	return r, nil
}

// ProcessImage отправляет изображение во внешний OCR-движок и сохраняет ответ.
func (s *OCRService) ProcessImage(ctx context.Context, imageID uint) (*model.OCRResult, error) {
	if s.engine == nil {
		return nil, errs.ErrOCRUnavailable
	}
	img, err := s.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.Recognize(ctx, s.bucket, img.ObjectKey)
	if err != nil {
		s.log.Error("ocr engine failed", "image_id", imageID, "error", err)
		return nil, fmt.Errorf("recognize image %d: %w", imageID, err)
	}
	return s.RecordOCRResult(ctx, imageID, OCRInput{
		Texts:          res.Texts,
		RawText:        res.JoinedText(),
		BBoxes:         res.Boxes,
		Confidence:     res.Confidence,
		ProcessingTime: res.ProcessingTime,
	})
}

// AvailableOCRData: последний результат по каждому изображению тикета в порядке отображения.
func (s *OCRService) AvailableOCRData(ctx context.Context, ticketID uint) ([]ImageOCR, error) {
	if _, err := s.tickets.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	return latestOCR(s.db.WithContext(ctx), ticketID)
}

func latestOCR(tx *gorm.DB, ticketID uint) ([]ImageOCR, error) {
	var images []model.Image
	if err := tx.Where("ticket_id = ?", ticketID).Order("display_order, id").Find(&images).Error; err != nil {
		return nil, err
	}
	out := make([]ImageOCR, len(images))
	if len(images) == 0 {
		return out, nil
	}
	ids := make([]uint, len(images))
	for i, img := range images {
		ids[i] = img.ID
		out[i].Image = img
	}
	var results []model.OCRResult
	if err := tx.Where("image_id IN ?", ids).Order("created_at DESC, id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	latest := make(map[uint]*model.OCRResult, len(images))
	for i := range results {
		if _, seen := latest[results[i].ImageID]; !seen {
			latest[results[i].ImageID] = &results[i]
		}
	}
	for i := range out {
		out[i].Result = latest[out[i].Image.ID]
	}
	return out, nil
}

// ApplyOCR переносит распознанные значения в форму тикета по отображению поле -> ключ OCR.
// Значение берётся из первого изображения (по display_order), где ключ есть; остальные поля пропускаются.
// Запись идёт тем же путём, что и UpdateTicket, и отклоняется целиком при ошибке валидации.
func (s *OCRService) ApplyOCR(ctx context.Context, actor string, ticketID uint, mapping map[string]string) (*ApplyOCRResult, error) {
	var resolved *formschema.OCRPatch
	res, err := s.tickets.mutate(ctx, ticketID, nil, model.AuditOCRApply, actor, func(tx *gorm.DB, t *model.Ticket) (*mutation, error) {
		data, err := latestOCR(tx, t.ID)
		if err != nil {
			return nil, err
		}
		sources := make([]formschema.OCRSource, 0, len(data))
		for _, d := range data {
			if d.Result == nil {
				continue
			}
			sources = append(sources, formschema.OCRSource{
				ImageID:      d.Image.ID,
				DisplayOrder: d.Image.DisplayOrder,
				Texts:        d.Result.Texts.Data(),
			})
		}
		resolved = formschema.ResolveOCRPatch(mapping, sources)
		m := newMutation()
		if resolved.Patch.Len() > 0 {
			if err := m.mergeDocument(tx, t, resolved.Patch); err != nil {
				return nil, err
			}
		}
		m.extra = map[string]any{"applied_fields": len(resolved.Matches)}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return &ApplyOCRResult{
		Ticket:   res.ticket,
		Changed:  res.changed,
		Applied:  resolved.Matches,
		Skipped:  resolved.Skipped,
		Warnings: res.warnings,
	}, nil
}
