package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/civicarchive/ingest-module/internal/domain/model"
	"github.com/civicarchive/ingest-module/internal/repository"
)

func gapLink(fileID, name string) *model.EligibleLink {
	return &model.EligibleLink{
		Link: model.WorkspaceFileLink{WorkspaceID: "ws-1", FileID: fileID},
		File: model.FileRecord{ID: fileID, Name: name},
	}
}

// TestBackfillService_Run проверяет дозаполнение метаданных по имени файла.
func TestBackfillService_Run(t *testing.T) {
	updates := map[string]repository.MetadataUpdate{}
	links := &mockLinkRepo{
		listMetadataGapsFn: func(_ context.Context, _ string, _, offset int) ([]*model.EligibleLink, error) {
			if offset > 0 {
				return nil, nil
			}
			return []*model.EligibleLink{
				gapLink("f-1", "Agenda_2022-01-12.pdf"),
			}, nil
		},
		updateDerivedMetadataFn: func(_ context.Context, _, fileID string, upd repository.MetadataUpdate) error {
			updates[fileID] = upd
			return nil
		},
	}

	svc := NewBackfillService(links, slog.Default())
	result, err := svc.Run(context.Background(), "ws-1", false)
	if err != nil {
		t.Fatalf("Run ошибка: %v", err)
	}

	if result.Scanned != 1 || result.Updated != 1 {
		t.Errorf("неожиданный результат: %+v", result)
	}

	upd, ok := updates["f-1"]
	if !ok {
		t.Fatal("обновление для f-1 не применено")
	}
	if upd.DocType == nil || *upd.DocType != "agenda" {
		t.Errorf("doc_type: ожидался agenda, получено %v", upd.DocType)
	}
	if upd.MeetingYear == nil || *upd.MeetingYear != 2022 {
		t.Errorf("meeting_year: ожидался 2022, получено %v", upd.MeetingYear)
	}
	if upd.FileExt == nil || *upd.FileExt != "pdf" {
		t.Errorf("file_ext: ожидался pdf, получено %v", upd.FileExt)
	}
	if upd.HasOCR == nil || *upd.HasOCR {
		t.Errorf("has_ocr: ожидался false, получено %v", upd.HasOCR)
	}
}

// TestBackfillService_PreservesExisting проверяет, что заполненные поля
// не перезаписываются.
func TestBackfillService_PreservesExisting(t *testing.T) {
	existing := "transcript"
	el := gapLink("f-1", "Agenda_2022.pdf")
	el.Link.DocType = &existing

	links := &mockLinkRepo{
		listMetadataGapsFn: func(_ context.Context, _ string, _, offset int) ([]*model.EligibleLink, error) {
			if offset > 0 {
				return nil, nil
			}
			return []*model.EligibleLink{el}, nil
		},
		updateDerivedMetadataFn: func(_ context.Context, _, _ string, upd repository.MetadataUpdate) error {
			if upd.DocType != nil {
				t.Errorf("doc_type перезаписан: %v", *upd.DocType)
			}
			return nil
		},
	}

	svc := NewBackfillService(links, slog.Default())
	if _, err := svc.Run(context.Background(), "ws-1", false); err != nil {
		t.Fatalf("Run ошибка: %v", err)
	}
}

// TestBackfillService_DryRun проверяет, что dry-run не пишет в БД.
func TestBackfillService_DryRun(t *testing.T) {
	links := &mockLinkRepo{
		listMetadataGapsFn: func(_ context.Context, _ string, _, offset int) ([]*model.EligibleLink, error) {
			if offset > 0 {
				return nil, nil
			}
			return []*model.EligibleLink{gapLink("f-1", "Minutes_2021.pdf")}, nil
		},
		updateDerivedMetadataFn: func(_ context.Context, _, _ string, _ repository.MetadataUpdate) error {
			t.Error("UpdateDerivedMetadata не должен вызываться в dry-run")
			return nil
		},
	}

	svc := NewBackfillService(links, slog.Default())
	result, err := svc.Run(context.Background(), "ws-1", true)
	if err != nil {
		t.Fatalf("Run ошибка: %v", err)
	}
	if result.Updated != 1 || !result.DryRun {
		t.Errorf("неожиданный результат dry-run: %+v", result)
	}
}
