package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/civicarchive/ingest-module/internal/aiclient"
	"github.com/civicarchive/ingest-module/internal/domain/model"
	"github.com/civicarchive/ingest-module/internal/repository"
	"github.com/civicarchive/ingest-module/internal/retry"
)

// eligibleLink — хелпер сборки кандидата на ингестию.
func eligibleLink(fileID, name string, ocrNeeded, ocrScanned bool) *model.EligibleLink {
	el := &model.EligibleLink{
		Link: model.WorkspaceFileLink{WorkspaceID: "ws-1", FileID: fileID},
		File: model.FileRecord{
			ID:         fileID,
			Name:       name,
			FilePath:   "files/" + name,
			OCRNeeded:  ocrNeeded,
			OCRScanned: ocrScanned,
		},
	}
	if ocrNeeded && ocrScanned {
		path := "ocr/" + fileID + ".txt"
		el.File.OCRTextPath = &path
	}
	return el
}

func newTestIngestService(links repository.LinkRepository, stores repository.StoreRepository, dl Downloader, ai AIClient) *IngestService {
	mapping := NewMappingService(stores, 16, time.Minute)
	svc := NewIngestService(links, mapping, dl, ai, 0, 50, 5, "", time.Hour, slog.Default())
	// Быстрые повторы в тестах
	svc.retryCfg = retry.Config{Attempts: 1}
	return svc
}

// TestIngestService_RunOnce проверяет полный цикл: выборка, фильтр
// OCR-готовности, загрузка, привязка, персист.
func TestIngestService_RunOnce(t *testing.T) {
	candidates := []*model.EligibleLink{
		eligibleLink("f-ready", "Agenda_2022-01-12.pdf", false, false),
		eligibleLink("f-scan", "scan.pdf", true, false), // OCR не готов
	}

	links := &mockLinkRepo{
		listCandidatesFn: func(_ context.Context, workspaceID string, limit int) ([]*model.EligibleLink, error) {
			if workspaceID != "ws-1" {
				t.Errorf("workspaceID = %s, ожидался ws-1", workspaceID)
			}
			if limit != 50 {
				t.Errorf("limit = %d, ожидался 50", limit)
			}
			return candidates, nil
		},
		markIngestedFn: func(_ context.Context, _, fileID string, res repository.IngestResult) error {
			if fileID != "f-ready" {
				t.Errorf("ингестирован %s, ожидался f-ready", fileID)
			}
			if res.OpenAIFileID != "file-up1" || res.VSFileID != "vsf-1" {
				t.Errorf("неожиданные удалённые id: %+v", res)
			}
			if res.HasOCR {
				t.Error("has_ocr = true для оригинального файла")
			}
			if res.DocType == nil || *res.DocType != "agenda" {
				t.Errorf("doc_type: ожидался agenda, получено %v", res.DocType)
			}
			if res.MeetingYear == nil || *res.MeetingYear != 2022 {
				t.Errorf("meeting_year: ожидался 2022, получено %v", res.MeetingYear)
			}
			return nil
		},
	}

	ai := &mockAIClient{
		uploadFileFn: func(_ context.Context, filename string, _ []byte) (*aiclient.UploadedFile, error) {
			if filename != "Agenda_2022-01-12.pdf" {
				t.Errorf("загружен %s, ожидался оригинал", filename)
			}
			return &aiclient.UploadedFile{ID: "file-up1"}, nil
		},
		attachFileFn: func(_ context.Context, vsID, fileID string) (*aiclient.VectorStoreFile, error) {
			if vsID != "vs_default" {
				t.Errorf("vsID = %s, ожидался vs_default", vsID)
			}
			if fileID != "file-up1" {
				t.Errorf("привязан %s, ожидался file-up1", fileID)
			}
			return &aiclient.VectorStoreFile{ID: "vsf-1", Status: "completed"}, nil
		},
	}

	svc := newTestIngestService(links, &mockStoreRepo{}, &mockDownloader{}, ai)
	result, err := svc.RunOnce(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("RunOnce ошибка: %v", err)
	}

	if result.Candidates != 2 {
		t.Errorf("Candidates = %d, ожидался 2", result.Candidates)
	}
	if result.Eligible != 1 {
		t.Errorf("Eligible = %d, ожидался 1 (скан без OCR отфильтрован)", result.Eligible)
	}
	if result.Ingested != 1 {
		t.Errorf("Ingested = %d, ожидался 1", result.Ingested)
	}
	if result.Failed != 0 {
		t.Errorf("Failed = %d, ожидался 0", result.Failed)
	}
}

// TestIngestService_OCRArtifact проверяет загрузку OCR-текста вместо
// оригинала для готовых сканов.
func TestIngestService_OCRArtifact(t *testing.T) {
	el := eligibleLink("f-scan", "Minutes_2021.pdf", true, true)

	var downloadedPath string
	dl := &mockDownloader{
		downloadFn: func(_ context.Context, path string) ([]byte, error) {
			downloadedPath = path
			return []byte("распознанный текст"), nil
		},
	}

	var uploadedName string
	ai := &mockAIClient{
		uploadFileFn: func(_ context.Context, filename string, _ []byte) (*aiclient.UploadedFile, error) {
			uploadedName = filename
			return &aiclient.UploadedFile{ID: "file-up1"}, nil
		},
	}

	var gotHasOCR bool
	links := &mockLinkRepo{
		listCandidatesFn: func(_ context.Context, _ string, _ int) ([]*model.EligibleLink, error) {
			return []*model.EligibleLink{el}, nil
		},
		markIngestedFn: func(_ context.Context, _, _ string, res repository.IngestResult) error {
			gotHasOCR = res.HasOCR
			return nil
		},
	}

	svc := newTestIngestService(links, &mockStoreRepo{}, dl, ai)
	if _, err := svc.RunOnce(context.Background(), "ws-1"); err != nil {
		t.Fatalf("RunOnce ошибка: %v", err)
	}

	if downloadedPath != "ocr/f-scan.txt" {
		t.Errorf("скачан %s, ожидался OCR-текст", downloadedPath)
	}
	if uploadedName != "Minutes_2021.txt" {
		t.Errorf("загружен %s, ожидался Minutes_2021.txt", uploadedName)
	}
	if !gotHasOCR {
		t.Error("has_ocr = false, ожидался true")
	}
}

// TestIngestService_UploadFailure проверяет запись durable-счётчика
// попыток при ошибке загрузки.
func TestIngestService_UploadFailure(t *testing.T) {
	recorded := false
	links := &mockLinkRepo{
		listCandidatesFn: func(_ context.Context, _ string, _ int) ([]*model.EligibleLink, error) {
			return []*model.EligibleLink{eligibleLink("f-1", "doc.pdf", false, false)}, nil
		},
		recordFailureFn: func(_ context.Context, _, fileID string, maxRetries int) (int, bool, error) {
			recorded = true
			if fileID != "f-1" {
				t.Errorf("попытка записана для %s, ожидался f-1", fileID)
			}
			if maxRetries != 5 {
				t.Errorf("maxRetries = %d, ожидался 5", maxRetries)
			}
			return 5, true, nil
		},
		markIngestedFn: func(_ context.Context, _, _ string, _ repository.IngestResult) error {
			t.Error("MarkIngested не должен вызываться при ошибке загрузки")
			return nil
		},
	}

	ai := &mockAIClient{
		uploadFileFn: func(_ context.Context, _ string, _ []byte) (*aiclient.UploadedFile, error) {
			return nil, errors.New("rate limit")
		},
	}

	svc := newTestIngestService(links, &mockStoreRepo{}, &mockDownloader{}, ai)
	result, err := svc.RunOnce(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("RunOnce ошибка: %v", err)
	}

	if !recorded {
		t.Error("RecordFailure не вызван")
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, ожидался 1", result.Failed)
	}
	if result.MarkedFailed != 1 {
		t.Errorf("MarkedFailed = %d, ожидался 1", result.MarkedFailed)
	}
}

// TestIngestService_AttachFailureCleansUp проверяет удаление
// загруженного файла при ошибке привязки.
func TestIngestService_AttachFailureCleansUp(t *testing.T) {
	deleted := ""
	ai := &mockAIClient{
		uploadFileFn: func(_ context.Context, _ string, _ []byte) (*aiclient.UploadedFile, error) {
			return &aiclient.UploadedFile{ID: "file-orphan"}, nil
		},
		attachFileFn: func(_ context.Context, _, _ string) (*aiclient.VectorStoreFile, error) {
			return nil, errors.New("vector store недоступен")
		},
		deleteFileFn: func(_ context.Context, fileID string) error {
			deleted = fileID
			return nil
		},
	}

	links := &mockLinkRepo{
		listCandidatesFn: func(_ context.Context, _ string, _ int) ([]*model.EligibleLink, error) {
			return []*model.EligibleLink{eligibleLink("f-1", "doc.pdf", false, false)}, nil
		},
	}

	svc := newTestIngestService(links, &mockStoreRepo{}, &mockDownloader{}, ai)
	result, err := svc.RunOnce(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("RunOnce ошибка: %v", err)
	}

	if deleted != "file-orphan" {
		t.Errorf("удалён %q, ожидался file-orphan", deleted)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, ожидался 1", result.Failed)
	}
}

// TestIngestService_NoMapping проверяет ошибку при отсутствии маппинга
// vector store.
func TestIngestService_NoMapping(t *testing.T) {
	stores := &mockStoreRepo{
		vectorStoreIDFn: func(_ context.Context, _ string) (string, error) {
			return "", repository.ErrNotFound
		},
	}

	svc := newTestIngestService(&mockLinkRepo{}, stores, &mockDownloader{}, &mockAIClient{})
	if _, err := svc.RunOnce(context.Background(), "ws-unknown"); err == nil {
		t.Fatal("ожидалась ошибка при отсутствии маппинга")
	}
}

// TestIngestService_ScannerFailSafe проверяет, что ошибка выборки
// эквивалентна пустому результату и не прерывает проход.
func TestIngestService_ScannerFailSafe(t *testing.T) {
	links := &mockLinkRepo{
		listCandidatesFn: func(_ context.Context, _ string, _ int) ([]*model.EligibleLink, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := newTestIngestService(links, &mockStoreRepo{}, &mockDownloader{}, &mockAIClient{})
	result, err := svc.RunOnce(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("ошибка выборки не должна прерывать проход: %v", err)
	}
	if result.Candidates != 0 || result.Ingested != 0 {
		t.Errorf("ожидался пустой результат, получено: %+v", result)
	}
}

// TestIngestService_SweepInProgress проверяет защиту от параллельного запуска.
func TestIngestService_SweepInProgress(t *testing.T) {
	svc := newTestIngestService(&mockLinkRepo{}, &mockStoreRepo{}, &mockDownloader{}, &mockAIClient{})

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if _, err := svc.RunOnce(context.Background(), "ws-1"); !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("ожидался ErrSweepInProgress, получено: %v", err)
	}
	if err := svc.RunAsync("ws-1"); !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("RunAsync: ожидался ErrSweepInProgress, получено: %v", err)
	}
}
