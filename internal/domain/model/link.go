// link.go — WorkspaceFileLink: состояние ингестии файла в рамках workspace.
// Маппинг таблицы file_workspaces.
package model

import (
	"encoding/json"
	"time"
)

// WorkspaceFileLink — join-запись (workspace, file) с состоянием ингестии.
//
// Жизненный цикл: pending → ingested (успех) либо
// pending → pending(retries+1) → ... → failed (исчерпание попыток);
// soft-delete терминален для данной записи.
// Инварианты: ingested=true ⇒ оба удалённых идентификатора заполнены;
// ingest_failed=true ⇒ ingest_retries >= максимума попыток.
type WorkspaceFileLink struct {
	// WorkspaceID — UUID workspace
	WorkspaceID string
	// FileID — UUID файла (FK на files)
	FileID string
	// NormalizedName — нормализованное имя для dedup при sync
	NormalizedName string

	// Ingested — файл загружен и прикреплён к vector store
	Ingested bool
	// Deleted — soft-delete (запись сохраняется для аудита)
	Deleted bool
	// DeletedAt — время soft-delete
	DeletedAt *time.Time
	// IngestFailed — попытки исчерпаны, запись исключена из sweep
	IngestFailed bool
	// IngestRetries — накопленный счётчик sweep-попыток (durable,
	// переживает рестарты процесса)
	IngestRetries int

	// OpenAIFileID — id файла в удалённом файловом хранилище (file-...)
	OpenAIFileID *string
	// VSFileID — id привязки файла к vector store
	VSFileID *string

	// --- Метаданные, выведенные из имени/текста ---

	HasOCR          *bool
	FileExt         *string
	DocType         *string
	MeetingYear     *int
	MeetingMonth    *int
	MeetingDay      *int
	MeetingBody     *string
	OrdinanceNumber *string

	// --- Профиль документа ---

	DocSummary  *string
	DocKeywords []string
	// DocEntities — jsonb с группами именованных сущностей
	DocEntities json.RawMessage
	// DocProfileProcessed — профиль сгенерирован
	DocProfileProcessed bool
	// DocProfileAt — время генерации профиля
	DocProfileAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EligibleLink — строка выборки Eligibility Scanner:
// link вместе с OCR-полями соответствующего файла.
type EligibleLink struct {
	Link WorkspaceFileLink
	File FileRecord
}
