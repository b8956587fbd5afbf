package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/civicarchive/ingest-module/internal/domain/model"
)

// linkColumns — столбцы file_workspaces для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const linkColumns = `fw.workspace_id, fw.file_id, fw.normalized_name,
	fw.ingested, fw.deleted, fw.deleted_at, fw.ingest_failed, fw.ingest_retries,
	fw.openai_file_id, fw.vs_file_id,
	fw.has_ocr, fw.file_ext, fw.doc_type, fw.meeting_year, fw.meeting_month,
	fw.meeting_day, fw.meeting_body, fw.ordinance_number,
	fw.doc_summary, fw.doc_keywords, fw.doc_entities,
	fw.doc_profile_processed, fw.doc_profile_at,
	fw.created_at, fw.updated_at`

// fileJoinColumns — OCR-поля files, присоединяемые к выборкам сканера.
const fileJoinColumns = `f.id, f.name, f.file_path, f.content_type,
	f.ocr_needed, f.ocr_scanned, f.ocr_text_path, f.created_at, f.updated_at`

// IngestResult — данные успешного прохода Upload/Attach pipeline.
// Персистится одним UPDATE: ingested=true и оба удалённых id
// выставляются атомарно (инвариант: никогда не частично).
type IngestResult struct {
	// OpenAIFileID — id загруженного файла в удалённом хранилище
	OpenAIFileID string
	// VSFileID — id привязки к vector store
	VSFileID string
	// HasOCR — артефактом был OCR-текст
	HasOCR bool
	// FileExt — расширение файла (без точки, lowercase)
	FileExt *string
	// DocType — тип документа (agenda, minutes, ordinance, transcript, report)
	DocType *string
	// MeetingYear, MeetingMonth, MeetingDay — дата заседания из имени файла
	MeetingYear  *int
	MeetingMonth *int
	MeetingDay   *int
	// MeetingBody — орган (Borough Council, Planning Commission, ...)
	MeetingBody *string
	// OrdinanceNumber — номер ордонанса из текста/имени
	OrdinanceNumber *string
}

// ProfileUpdate — результат Profiling Pass.
type ProfileUpdate struct {
	Summary  string
	Keywords []string
	Entities json.RawMessage
}

// MetadataUpdate — частичное обновление метаданных (backfill).
// nil-поля не трогаются.
type MetadataUpdate struct {
	HasOCR       *bool
	FileExt      *string
	DocType      *string
	MeetingYear  *int
	MeetingMonth *int
}

// IsEmpty — обновление не содержит ни одного поля.
func (u *MetadataUpdate) IsEmpty() bool {
	return u.HasOCR == nil && u.FileExt == nil && u.DocType == nil &&
		u.MeetingYear == nil && u.MeetingMonth == nil
}

// LinkCounts — счётчики состояния ингестии workspace для health summary.
type LinkCounts struct {
	// Active — записи без soft-delete
	Active int `json:"active"`
	// Ingested — ingested=true
	Ingested int `json:"ingested"`
	// NotIngested — ingested=false
	NotIngested int `json:"not_ingested"`
	// WithOpenAIFileID — заполнен openai_file_id
	WithOpenAIFileID int `json:"with_openai_file_id"`
	// WithVSFileID — заполнен vs_file_id
	WithVSFileID int `json:"with_vs_file_id"`
}

// RemoteRef — удалённые идентификаторы записи с ingested=true.
type RemoteRef struct {
	FileID       string
	OpenAIFileID *string
	VSFileID     *string
}

// LinkRepository — доступ к таблице file_workspaces.
type LinkRepository interface {
	// ListCandidates возвращает кандидатов на ингестию:
	// ingested=false AND deleted=false AND ingest_failed=false, с OCR-полями
	// файла. OCR-готовность фильтруется вызывающим кодом.
	ListCandidates(ctx context.Context, workspaceID string, limit int) ([]*model.EligibleLink, error)
	// ListUnprofiledCandidates возвращает кандидатов на профилирование:
	// deleted=false AND doc_profile_processed=false (независимо от ingested).
	ListUnprofiledCandidates(ctx context.Context, workspaceID string, limit int) ([]*model.EligibleLink, error)
	// Get возвращает link по (workspace, file) или ErrNotFound.
	Get(ctx context.Context, workspaceID, fileID string) (*model.WorkspaceFileLink, error)
	// MarkIngested персистит успешный результат pipeline одним UPDATE.
	MarkIngested(ctx context.Context, workspaceID, fileID string, res IngestResult) error
	// RecordFailure инкрементирует durable-счётчик попыток и выставляет
	// ingest_failed при достижении maxRetries.
	// Возвращает новое значение счётчика и итоговый флаг ingest_failed.
	RecordFailure(ctx context.Context, workspaceID, fileID string, maxRetries int) (int, bool, error)
	// SaveProfile персистит профиль документа и doc_profile_processed=true.
	SaveProfile(ctx context.Context, workspaceID, fileID string, upd ProfileUpdate) error
	// SoftDelete помечает запись deleted=true и атомарно очищает
	// удалённые идентификаторы с ingested=false.
	SoftDelete(ctx context.Context, workspaceID, fileID string) error
	// ResetIngestState сбрасывает состояние ингестии всех активных записей
	// workspace (после purge). Возвращает количество затронутых строк.
	ResetIngestState(ctx context.Context, workspaceID string) (int64, error)
	// Counts возвращает счётчики для health summary.
	Counts(ctx context.Context, workspaceID string) (*LinkCounts, error)
	// IngestedRemoteRefs возвращает удалённые id всех активных ingested-записей.
	IngestedRemoteRefs(ctx context.Context, workspaceID string) ([]RemoteRef, error)
	// ListMetadataGaps возвращает активные записи с незаполненными
	// метаданными (постранично) для backfill.
	ListMetadataGaps(ctx context.Context, workspaceID string, limit, offset int) ([]*model.EligibleLink, error)
	// UpdateDerivedMetadata применяет частичное обновление метаданных.
	UpdateDerivedMetadata(ctx context.Context, workspaceID, fileID string, upd MetadataUpdate) error
}

// linkRepo — реализация LinkRepository через pgx.
type linkRepo struct {
	db DBTX
}

// NewLinkRepository создаёт репозиторий file_workspaces.
func NewLinkRepository(db DBTX) LinkRepository {
	return &linkRepo{db: db}
}

// scanJoined читает строку выборки link JOIN file.
func scanJoined(row pgx.Row) (*model.EligibleLink, error) {
	el := &model.EligibleLink{}
	l := &el.Link
	f := &el.File
	err := row.Scan(
		&l.WorkspaceID, &l.FileID, &l.NormalizedName,
		&l.Ingested, &l.Deleted, &l.DeletedAt, &l.IngestFailed, &l.IngestRetries,
		&l.OpenAIFileID, &l.VSFileID,
		&l.HasOCR, &l.FileExt, &l.DocType, &l.MeetingYear, &l.MeetingMonth,
		&l.MeetingDay, &l.MeetingBody, &l.OrdinanceNumber,
		&l.DocSummary, &l.DocKeywords, &l.DocEntities,
		&l.DocProfileProcessed, &l.DocProfileAt,
		&l.CreatedAt, &l.UpdatedAt,
		&f.ID, &f.Name, &f.FilePath, &f.ContentType,
		&f.OCRNeeded, &f.OCRScanned, &f.OCRTextPath, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return el, nil
}

// queryJoined выполняет выборку link JOIN file по заданному WHERE.
func (r *linkRepo) queryJoined(ctx context.Context, where string, args ...any) ([]*model.EligibleLink, error) {
	query := fmt.Sprintf(
		`SELECT %s, %s FROM file_workspaces fw JOIN files f ON f.id = fw.file_id %s`,
		linkColumns, fileJoinColumns, where,
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки file_workspaces: %w", err)
	}
	defer rows.Close()

	var result []*model.EligibleLink
	for rows.Next() {
		el, scanErr := scanJoined(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("ошибка чтения строки file_workspaces: %w", scanErr)
		}
		result = append(result, el)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка обхода выборки file_workspaces: %w", err)
	}
	return result, nil
}

func (r *linkRepo) ListCandidates(ctx context.Context, workspaceID string, limit int) ([]*model.EligibleLink, error) {
	return r.queryJoined(ctx,
		`WHERE fw.workspace_id = $1
			AND fw.ingested = false
			AND fw.deleted = false
			AND fw.ingest_failed = false
		LIMIT $2`,
		workspaceID, limit,
	)
}

func (r *linkRepo) ListUnprofiledCandidates(ctx context.Context, workspaceID string, limit int) ([]*model.EligibleLink, error) {
	return r.queryJoined(ctx,
		`WHERE fw.workspace_id = $1
			AND fw.deleted = false
			AND fw.doc_profile_processed = false
		LIMIT $2`,
		workspaceID, limit,
	)
}

func (r *linkRepo) Get(ctx context.Context, workspaceID, fileID string) (*model.WorkspaceFileLink, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM file_workspaces fw WHERE fw.workspace_id = $1 AND fw.file_id = $2`,
		linkColumns,
	)

	l := &model.WorkspaceFileLink{}
	err := r.db.QueryRow(ctx, query, workspaceID, fileID).Scan(
		&l.WorkspaceID, &l.FileID, &l.NormalizedName,
		&l.Ingested, &l.Deleted, &l.DeletedAt, &l.IngestFailed, &l.IngestRetries,
		&l.OpenAIFileID, &l.VSFileID,
		&l.HasOCR, &l.FileExt, &l.DocType, &l.MeetingYear, &l.MeetingMonth,
		&l.MeetingDay, &l.MeetingBody, &l.OrdinanceNumber,
		&l.DocSummary, &l.DocKeywords, &l.DocEntities,
		&l.DocProfileProcessed, &l.DocProfileAt,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения file_workspaces: %w", err)
	}
	return l, nil
}

func (r *linkRepo) MarkIngested(ctx context.Context, workspaceID, fileID string, res IngestResult) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE file_workspaces SET
			ingested = true,
			ingest_failed = false,
			openai_file_id = $3,
			vs_file_id = $4,
			has_ocr = $5,
			file_ext = COALESCE($6, file_ext),
			doc_type = COALESCE($7, doc_type),
			meeting_year = COALESCE($8, meeting_year),
			meeting_month = COALESCE($9, meeting_month),
			meeting_day = COALESCE($10, meeting_day),
			meeting_body = COALESCE($11, meeting_body),
			ordinance_number = COALESCE($12, ordinance_number),
			updated_at = now()
		WHERE workspace_id = $1 AND file_id = $2`,
		workspaceID, fileID,
		res.OpenAIFileID, res.VSFileID, res.HasOCR,
		res.FileExt, res.DocType,
		res.MeetingYear, res.MeetingMonth, res.MeetingDay,
		res.MeetingBody, res.OrdinanceNumber,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления file_workspaces после ингестии: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *linkRepo) RecordFailure(ctx context.Context, workspaceID, fileID string, maxRetries int) (int, bool, error) {
	var retries int
	var failed bool
	err := r.db.QueryRow(ctx,
		`UPDATE file_workspaces SET
			ingest_retries = ingest_retries + 1,
			ingest_failed = (ingest_retries + 1 >= $3),
			updated_at = now()
		WHERE workspace_id = $1 AND file_id = $2
		RETURNING ingest_retries, ingest_failed`,
		workspaceID, fileID, maxRetries,
	).Scan(&retries, &failed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, ErrNotFound
		}
		return 0, false, fmt.Errorf("ошибка записи счётчика попыток: %w", err)
	}
	return retries, failed, nil
}

func (r *linkRepo) SaveProfile(ctx context.Context, workspaceID, fileID string, upd ProfileUpdate) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE file_workspaces SET
			doc_summary = $3,
			doc_keywords = $4,
			doc_entities = $5,
			doc_profile_processed = true,
			doc_profile_at = now(),
			updated_at = now()
		WHERE workspace_id = $1 AND file_id = $2`,
		workspaceID, fileID, upd.Summary, upd.Keywords, upd.Entities,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи профиля документа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *linkRepo) SoftDelete(ctx context.Context, workspaceID, fileID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE file_workspaces SET
			deleted = true,
			deleted_at = now(),
			ingested = false,
			openai_file_id = NULL,
			vs_file_id = NULL,
			updated_at = now()
		WHERE workspace_id = $1 AND file_id = $2 AND deleted = false`,
		workspaceID, fileID,
	)
	if err != nil {
		return fmt.Errorf("ошибка soft-delete file_workspaces: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *linkRepo) ResetIngestState(ctx context.Context, workspaceID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE file_workspaces SET
			ingested = false,
			ingest_failed = false,
			ingest_retries = 0,
			openai_file_id = NULL,
			vs_file_id = NULL,
			updated_at = now()
		WHERE workspace_id = $1 AND deleted = false`,
		workspaceID,
	)
	if err != nil {
		return 0, fmt.Errorf("ошибка сброса состояния ингестии: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *linkRepo) Counts(ctx context.Context, workspaceID string) (*LinkCounts, error) {
	c := &LinkCounts{}
	err := r.db.QueryRow(ctx,
		`SELECT
			count(*),
			count(*) FILTER (WHERE ingested),
			count(*) FILTER (WHERE NOT ingested),
			count(*) FILTER (WHERE openai_file_id IS NOT NULL),
			count(*) FILTER (WHERE vs_file_id IS NOT NULL)
		FROM file_workspaces
		WHERE workspace_id = $1 AND deleted = false`,
		workspaceID,
	).Scan(&c.Active, &c.Ingested, &c.NotIngested, &c.WithOpenAIFileID, &c.WithVSFileID)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта file_workspaces: %w", err)
	}
	return c, nil
}

func (r *linkRepo) IngestedRemoteRefs(ctx context.Context, workspaceID string) ([]RemoteRef, error) {
	rows, err := r.db.Query(ctx,
		`SELECT file_id, openai_file_id, vs_file_id
		FROM file_workspaces
		WHERE workspace_id = $1 AND deleted = false AND ingested = true`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки удалённых идентификаторов: %w", err)
	}
	defer rows.Close()

	var refs []RemoteRef
	for rows.Next() {
		var ref RemoteRef
		if err := rows.Scan(&ref.FileID, &ref.OpenAIFileID, &ref.VSFileID); err != nil {
			return nil, fmt.Errorf("ошибка чтения удалённых идентификаторов: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка обхода удалённых идентификаторов: %w", err)
	}
	return refs, nil
}

func (r *linkRepo) ListMetadataGaps(ctx context.Context, workspaceID string, limit, offset int) ([]*model.EligibleLink, error) {
	return r.queryJoined(ctx,
		`WHERE fw.workspace_id = $1
			AND fw.deleted = false
			AND (fw.has_ocr IS NULL OR fw.file_ext IS NULL OR fw.doc_type IS NULL
				OR fw.meeting_year IS NULL OR fw.meeting_month IS NULL)
		ORDER BY fw.file_id
		LIMIT $2 OFFSET $3`,
		workspaceID, limit, offset,
	)
}

func (r *linkRepo) UpdateDerivedMetadata(ctx context.Context, workspaceID, fileID string, upd MetadataUpdate) error {
	// Динамический SET только для заполненных полей
	sets := make([]string, 0, 5)
	args := []any{workspaceID, fileID}
	argNum := 3

	addSet := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argNum))
		args = append(args, val)
		argNum++
	}

	if upd.HasOCR != nil {
		addSet("has_ocr", *upd.HasOCR)
	}
	if upd.FileExt != nil {
		addSet("file_ext", *upd.FileExt)
	}
	if upd.DocType != nil {
		addSet("doc_type", *upd.DocType)
	}
	if upd.MeetingYear != nil {
		addSet("meeting_year", *upd.MeetingYear)
	}
	if upd.MeetingMonth != nil {
		addSet("meeting_month", *upd.MeetingMonth)
	}

	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = now()")

	query := fmt.Sprintf(
		`UPDATE file_workspaces SET %s WHERE workspace_id = $1 AND file_id = $2`,
		strings.Join(sets, ", "),
	)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ошибка backfill-обновления метаданных: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
