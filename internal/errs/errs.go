package errs

import "errors"

// Ошибки сервисного слоя. Handler маппит их в HTTP-статусы.
var (
	ErrTicketNotFound         = errors.New("ticket not found")
	ErrTicketTypeNotFound     = errors.New("ticket type not found")
	ErrImageNotFound          = errors.New("image not found")
	ErrOCRResultNotFound      = errors.New("no ocr results for image")
	ErrTicketTypeExists       = errors.New("ticket type already exists")
	ErrTicketTypeInactive     = errors.New("ticket type is inactive")
	ErrFieldExists            = errors.New("field already exists")
	ErrFieldNotFound          = errors.New("field not found")
	ErrInvalidFieldDefinition = errors.New("invalid field definition")
	ErrImageLimit             = errors.New("image limit reached")
	ErrConcurrentUpdate       = errors.New("ticket was modified concurrently")
	ErrInvalidStatus          = errors.New("invalid ticket status")
	ErrInvalidPriority        = errors.New("invalid ticket priority")
	ErrImportTooLarge         = errors.New("import batch too large")
	ErrOCRUnavailable         = errors.New("ocr engine is not configured")
)
