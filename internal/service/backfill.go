// backfill.go — дозаполнение метаданных (file_ext, doc_type,
// meeting_year, meeting_month, has_ocr) для записей, ингестированных
// до появления Metadata Derivation.
//
// Работает только по имени файла: содержимое не скачивается,
// заполненные поля не перезаписываются.
package service

import (
	"context"
	"log/slog"

	"github.com/civicarchive/ingest-module/internal/domain/model"
	"github.com/civicarchive/ingest-module/internal/repository"
)

// backfillPageSize — размер страницы выборки записей с пробелами.
const backfillPageSize = 200

// BackfillResult — результат прохода backfill.
type BackfillResult struct {
	// Scanned — просмотренные записи с незаполненными метаданными
	Scanned int `json:"scanned"`
	// Updated — записи, получившие хотя бы одно новое поле
	Updated int `json:"updated"`
	// Unresolved — записи, для которых вывести нечего
	Unresolved int `json:"unresolved"`
	// Errors — ошибки персиста
	Errors int  `json:"errors"`
	DryRun bool `json:"dry_run"`
}

// BackfillService — дозаполнение выведенных метаданных.
type BackfillService struct {
	links  repository.LinkRepository
	logger *slog.Logger
}

// NewBackfillService создаёт сервис backfill.
func NewBackfillService(links repository.LinkRepository, logger *slog.Logger) *BackfillService {
	return &BackfillService{
		links:  links,
		logger: logger.With(slog.String("component", "backfill")),
	}
}

// Run проходит все записи workspace с незаполненными метаданными
// и применяет частичные обновления. dryRun — только подсчёт.
func (s *BackfillService) Run(ctx context.Context, workspaceID string, dryRun bool) (*BackfillResult, error) {
	result := &BackfillResult{DryRun: dryRun}
	offset := 0

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		page, err := s.links.ListMetadataGaps(ctx, workspaceID, backfillPageSize, offset)
		if err != nil {
			return result, err
		}
		if len(page) == 0 {
			break
		}

		for _, el := range page {
			result.Scanned++

			upd := s.buildUpdate(el)
			if upd.IsEmpty() {
				result.Unresolved++
				continue
			}

			if dryRun {
				result.Updated++
				continue
			}

			if err := s.links.UpdateDerivedMetadata(ctx, el.Link.WorkspaceID, el.Link.FileID, upd); err != nil {
				result.Errors++
				s.logger.Error("Ошибка backfill-обновления",
					slog.String("file_id", el.Link.FileID),
					slog.String("error", err.Error()),
				)
				continue
			}
			result.Updated++
		}

		// Частично обновлённые записи остаются в выборке пробелов,
		// поэтому offset всегда двигается на размер страницы
		offset += len(page)
	}

	s.logger.Info("Backfill завершён",
		slog.String("workspace_id", workspaceID),
		slog.Int("scanned", result.Scanned),
		slog.Int("updated", result.Updated),
		slog.Int("unresolved", result.Unresolved),
		slog.Int("errors", result.Errors),
		slog.Bool("dry_run", dryRun),
	)

	return result, nil
}

// buildUpdate выводит недостающие метаданные из имени файла.
// Уже заполненные поля не включаются в обновление.
func (s *BackfillService) buildUpdate(el *model.EligibleLink) repository.MetadataUpdate {
	md := DeriveMetadata(el.File.Name, "")
	upd := repository.MetadataUpdate{}

	if el.Link.HasOCR == nil {
		hasOCR := el.File.OCRNeeded && el.File.OCRScanned
		upd.HasOCR = &hasOCR
	}
	if el.Link.FileExt == nil && md.FileExt != nil {
		upd.FileExt = md.FileExt
	}
	if el.Link.DocType == nil && md.DocType != nil {
		upd.DocType = md.DocType
	}
	if el.Link.MeetingYear == nil && md.MeetingYear != nil {
		upd.MeetingYear = md.MeetingYear
	}
	if el.Link.MeetingMonth == nil && md.MeetingMonth != nil {
		upd.MeetingMonth = md.MeetingMonth
	}

	return upd
}
