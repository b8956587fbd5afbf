// vectorstore.go — обработчики операций Vector Store Ingestion:
// запуск sweep, профилирование, сверка, purge, прогресс, листинг,
// удаление файла и backfill метаданных.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/civicarchive/ingest-module/internal/aiclient"
	apierrors "github.com/civicarchive/ingest-module/internal/api/errors"
	"github.com/civicarchive/ingest-module/internal/repository"
	"github.com/civicarchive/ingest-module/internal/service"
)

// SweepRunner — запуск прохода ингестии. Реализуется service.IngestService.
type SweepRunner interface {
	RunAsync(workspaceID string) error
}

// ProfileRunner — запуск прохода профилирования. Реализуется service.ProfileService.
type ProfileRunner interface {
	RunAsync(workspaceID string, limit int) error
}

// Reconciler — операции сверки и обслуживания. Реализуется service.ReconcileService.
type Reconciler interface {
	Health(ctx context.Context, workspaceID string) (*service.HealthSummary, error)
	Purge(ctx context.Context, workspaceID string, deleteFiles, resetState, dryRun bool) (*service.PurgeResult, error)
	HardPurge(ctx context.Context, workspaceID string, maxIters int, deleteFiles bool) (*service.HardPurgeResult, error)
	Progress(ctx context.Context, workspaceID string, includeFiles bool) (*service.ProgressReport, error)
	ListFiles(ctx context.Context, workspaceID, label string) (string, []aiclient.VectorStoreFile, error)
	RemoveFile(ctx context.Context, workspaceID, fileID string) error
}

// BackfillRunner — дозаполнение метаданных. Реализуется service.BackfillService.
type BackfillRunner interface {
	Run(ctx context.Context, workspaceID string, dryRun bool) (*service.BackfillResult, error)
}

// VectorStoreHandler — обработчик операций vector store.
type VectorStoreHandler struct {
	sweep        SweepRunner
	profile      ProfileRunner
	reconcile    Reconciler
	backfill     BackfillRunner
	profileLimit int
	logger       *slog.Logger
}

// NewVectorStoreHandler создаёт обработчик операций vector store.
// profileLimit — максимум документов за один проход профилирования.
func NewVectorStoreHandler(
	sweep SweepRunner,
	profile ProfileRunner,
	reconcile Reconciler,
	backfill BackfillRunner,
	profileLimit int,
	logger *slog.Logger,
) *VectorStoreHandler {
	return &VectorStoreHandler{
		sweep:        sweep,
		profile:      profile,
		reconcile:    reconcile,
		backfill:     backfill,
		profileLimit: profileLimit,
		logger:       logger.With(slog.String("component", "vectorstore_handler")),
	}
}

// workspaceID извлекает и валидирует UUID workspace из пути.
// При ошибке пишет 400 и возвращает ("", false).
func workspaceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "workspaceID")
	if _, err := uuid.Parse(id); err != nil {
		apierrors.ValidationError(w, "workspaceID должен быть валидным UUID")
		return "", false
	}
	return id, true
}

// writeServiceError маппит ошибки сервисного слоя на HTTP-статусы.
func (h *VectorStoreHandler) writeServiceError(w http.ResponseWriter, err error) {
	var apiErr *aiclient.APIError
	switch {
	case errors.Is(err, service.ErrSweepInProgress):
		apierrors.SweepInProgress(w, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.As(err, &apiErr):
		apierrors.UpstreamError(w, err.Error())
	default:
		h.logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, err.Error())
	}
}

// Ingest — POST /responses/vector-store/ingest/{workspaceID}.
// Запускает проход ингестии в фоне и сразу отвечает 202;
// результат наблюдается через progress и health.
func (h *VectorStoreHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(w, r)
	if !ok {
		return
	}

	if err := h.sweep.RunAsync(ws); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"workspace_id": ws,
		"message":      "проход ингестии запущен",
	})
}

// Profile — POST /responses/vector-store/profile/{workspaceID}.
// Запускает проход профилирования в фоне, отвечает 202.
func (h *VectorStoreHandler) Profile(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(w, r)
	if !ok {
		return
	}

	if err := h.profile.RunAsync(ws, h.profileLimit); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"workspace_id": ws,
		"message":      "проход профилирования запущен",
	})
}

// Health — GET /responses/vector-store/health/{workspaceID}.
// Сверка состояния БД с vector store.
func (h *VectorStoreHandler) Health(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(w, r)
	if !ok {
		return
	}

	summary, err := h.reconcile.Health(r.Context(), ws)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Purge — POST /responses/vector-store/purge/{workspaceID}.
// Query-параметры: delete_files, reset_state, dry_run (булевы).
func (h *VectorStoreHandler) Purge(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	result, err := h.reconcile.Purge(r.Context(), ws,
		q.Get("delete_files") == "true",
		q.Get("reset_state") == "true",
		q.Get("dry_run") == "true",
	)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HardPurge — POST /responses/vector-store/hard-purge/{workspaceID}.
// Повторяет листинг и отвязку до пустого vector store, игнорируя БД.
// Query-параметры: max_iters (int, 0 — по умолчанию), delete_files (bool).
func (h *VectorStoreHandler) HardPurge(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	maxIters := 0
	if raw := q.Get("max_iters"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			apierrors.ValidationError(w, "max_iters должен быть целым числом")
			return
		}
		maxIters = n
	}

	result, err := h.reconcile.HardPurge(r.Context(), ws, maxIters, q.Get("delete_files") == "true")
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Progress — GET /responses/vector-store/progress/{workspaceID}?include_files=true.
// Счётчики статусов индексации на удалённой стороне.
func (h *VectorStoreHandler) Progress(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(w, r)
	if !ok {
		return
	}

	report, err := h.reconcile.Progress(r.Context(), ws, r.URL.Query().Get("include_files") == "true")
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// listFilesResponse — ответ листинга файлов vector store.
type listFilesResponse struct {
	WorkspaceID   string                     `json:"workspace_id"`
	VectorStoreID string                     `json:"vector_store_id"`
	Label         string                     `json:"label,omitempty"`
	Total         int                        `json:"total"`
	Files         []aiclient.VectorStoreFile `json:"files"`
}

// ListFiles — GET /responses/vector-store/files/{workspaceID}?label=...
func (h *VectorStoreHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(w, r)
	if !ok {
		return
	}

	label := r.URL.Query().Get("label")
	vsID, files, err := h.reconcile.ListFiles(r.Context(), ws, label)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listFilesResponse{
		WorkspaceID:   ws,
		VectorStoreID: vsID,
		Label:         label,
		Total:         len(files),
		Files:         files,
	})
}

// RemoveFile — DELETE /responses/vector-store/files/{workspaceID}/{fileID}.
// Отвязка, удаление из хранилища и soft-delete записи.
func (h *VectorStoreHandler) RemoveFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(w, r)
	if !ok {
		return
	}

	fileID := chi.URLParam(r, "fileID")
	if _, err := uuid.Parse(fileID); err != nil {
		apierrors.ValidationError(w, "fileID должен быть валидным UUID")
		return
	}

	if err := h.reconcile.RemoveFile(r.Context(), ws, fileID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"workspace_id": ws,
		"file_id":      fileID,
		"status":       "deleted",
	})
}

// Backfill — POST /responses/vector-store/backfill/{workspaceID}?dry_run=true.
// Дозаполнение выведенных метаданных по имени файла.
func (h *VectorStoreHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(w, r)
	if !ok {
		return
	}

	result, err := h.backfill.Run(r.Context(), ws, r.URL.Query().Get("dry_run") == "true")
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
