// reconcile.go — сверка состояния БД с vector store и операции
// обслуживания: health summary, purge, hard purge, progress, list.
//
// Сверка read-only: расхождения считаются и отдаются наружу,
// автоматическое исправление не выполняется.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/civicarchive/ingest-module/internal/aiclient"
	"github.com/civicarchive/ingest-module/internal/repository"
)

// Prometheus метрики сверки
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_reconcile_runs_total",
		Help: "Общее количество запусков сверки БД с vector store",
	})

	reconcileDanglingVS = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "im_reconcile_dangling_vs_entries",
		Help: "Количество записей vector store без маппинга в БД (последняя сверка)",
	})

	reconcileDanglingDB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "im_reconcile_dangling_db_entries",
		Help: "Количество ingested-записей БД, отсутствующих в vector store (последняя сверка)",
	})

	purgeDetachedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_purge_detached_total",
		Help: "Общее количество привязок, удалённых операциями purge",
	})
)

// danglingSampleLimit — максимум примеров расхождений в health summary.
const danglingSampleLimit = 20

// DanglingCounts — счётчики расхождений между БД и vector store.
type DanglingCounts struct {
	// VSWithoutDBMapping — записи vector store, неизвестные БД
	VSWithoutDBMapping int `json:"vs_without_db_mapping"`
	// DBIngestedMissingInVS — ingested-записи БД, отсутствующие в vector store
	DBIngestedMissingInVS int `json:"db_ingested_missing_in_vs"`
}

// HealthSummary — результат сверки workspace.
type HealthSummary struct {
	WorkspaceID   string                 `json:"workspace_id"`
	VectorStoreID string                 `json:"vector_store_id"`
	DB            *repository.LinkCounts `json:"db_counts"`
	VSFileCount   int                    `json:"vs_file_count"`
	Dangling      DanglingCounts         `json:"dangling_counts"`
	// VSSamples — примеры id из vector store без маппинга (не более 20)
	VSSamples []string `json:"vs_samples,omitempty"`
	// DBSamples — примеры file_id из БД без записи в vector store (не более 20)
	DBSamples []string `json:"db_samples,omitempty"`
}

// PurgeResult — результат purge.
type PurgeResult struct {
	Detached     int  `json:"detached"`
	FilesDeleted int  `json:"files_deleted"`
	Errors       int  `json:"errors"`
	StateReset   int  `json:"state_reset"`
	DryRun       bool `json:"dry_run"`
}

// HardPurgeResult — результат hard purge (цикл до пустого листинга).
type HardPurgeResult struct {
	Detached   int `json:"detached"`
	Iterations int `json:"iterations"`
	Remaining  int `json:"remaining"`
}

// ProgressReport — прогресс индексации файлов в vector store.
// Счётчики — по статусам привязок на удалённой стороне (ground truth),
// не по флагам БД.
type ProgressReport struct {
	WorkspaceID   string `json:"workspace_id"`
	VectorStoreID string `json:"vector_store_id"`
	Total         int    `json:"total"`
	InProgress    int    `json:"in_progress"`
	Completed     int    `json:"completed"`
	Failed        int    `json:"failed"`
	Other         int    `json:"other"`
	// Done — есть файлы и ни один не индексируется и не упал
	Done bool `json:"done"`
	// Files — полный листинг (по запросу include_files)
	Files []aiclient.VectorStoreFile `json:"files,omitempty"`
}

// ReconcileService — сверка и обслуживание vector store.
type ReconcileService struct {
	links   repository.LinkRepository
	mapping *MappingService
	ai      AIClient
	delay   time.Duration
	logger  *slog.Logger
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	links repository.LinkRepository,
	mapping *MappingService,
	ai AIClient,
	delay time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		links:   links,
		mapping: mapping,
		ai:      ai,
		delay:   delay,
		logger:  logger.With(slog.String("component", "reconcile")),
	}
}

// resolveStore возвращает default vector store workspace с понятной
// ошибкой, если маппинг не настроен.
func (s *ReconcileService) resolveStore(ctx context.Context, workspaceID string) (string, error) {
	vsID, err := s.mapping.VectorStoreID(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("vector store для workspace %s не настроен: %w", workspaceID, repository.ErrNotFound)
		}
		return "", err
	}
	return vsID, nil
}

// Health выполняет сверку: счётчики БД, листинг vector store и
// подсчёт расхождений в обе стороны.
func (s *ReconcileService) Health(ctx context.Context, workspaceID string) (*HealthSummary, error) {
	reconcileRunsTotal.Inc()

	vsID, err := s.resolveStore(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	counts, err := s.links.Counts(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	refs, err := s.links.IngestedRemoteRefs(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	vsFiles, err := s.ai.ListVectorStoreFiles(ctx, vsID)
	if err != nil {
		return nil, fmt.Errorf("листинг vector store: %w", err)
	}

	// Индексы для сверки в обе стороны: связь идёт по openai_file_id
	dbByFileID := make(map[string]string, len(refs))
	for _, ref := range refs {
		if ref.OpenAIFileID != nil {
			dbByFileID[*ref.OpenAIFileID] = ref.FileID
		}
	}
	vsSet := make(map[string]struct{}, len(vsFiles))
	for _, vf := range vsFiles {
		vsSet[vf.FileID] = struct{}{}
	}

	summary := &HealthSummary{
		WorkspaceID:   workspaceID,
		VectorStoreID: vsID,
		DB:            counts,
		VSFileCount:   len(vsFiles),
	}

	for _, vf := range vsFiles {
		if _, ok := dbByFileID[vf.FileID]; !ok {
			summary.Dangling.VSWithoutDBMapping++
			if len(summary.VSSamples) < danglingSampleLimit {
				summary.VSSamples = append(summary.VSSamples, vf.FileID)
			}
		}
	}
	for _, ref := range refs {
		if ref.OpenAIFileID == nil {
			continue
		}
		if _, ok := vsSet[*ref.OpenAIFileID]; !ok {
			summary.Dangling.DBIngestedMissingInVS++
			if len(summary.DBSamples) < danglingSampleLimit {
				summary.DBSamples = append(summary.DBSamples, ref.FileID)
			}
		}
	}

	reconcileDanglingVS.Set(float64(summary.Dangling.VSWithoutDBMapping))
	reconcileDanglingDB.Set(float64(summary.Dangling.DBIngestedMissingInVS))

	s.logger.Info("Сверка завершена",
		slog.String("workspace_id", workspaceID),
		slog.Int("db_ingested", counts.Ingested),
		slog.Int("vs_files", summary.VSFileCount),
		slog.Int("vs_without_db_mapping", summary.Dangling.VSWithoutDBMapping),
		slog.Int("db_ingested_missing_in_vs", summary.Dangling.DBIngestedMissingInVS),
	)

	return summary, nil
}

// Purge отвязывает все файлы vector store workspace (один листинг).
// deleteFiles — дополнительно удалять файлы из файлового хранилища,
// resetState — сбросить состояние ингестии в БД для повторного sweep.
func (s *ReconcileService) Purge(ctx context.Context, workspaceID string, deleteFiles, resetState, dryRun bool) (*PurgeResult, error) {
	vsID, err := s.resolveStore(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	vsFiles, err := s.ai.ListVectorStoreFiles(ctx, vsID)
	if err != nil {
		return nil, fmt.Errorf("листинг vector store: %w", err)
	}

	result := &PurgeResult{DryRun: dryRun}

	if dryRun {
		result.Detached = len(vsFiles)
		return result, nil
	}

	for _, vf := range vsFiles {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := s.ai.DetachFile(ctx, vsID, vf.ID); err != nil {
			result.Errors++
			s.logger.Error("Ошибка отвязки файла при purge",
				slog.String("vs_file_id", vf.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Detached++
		purgeDetachedTotal.Inc()

		// Удаляем только файлы файлового хранилища; чужие id не трогаем
		if deleteFiles && strings.HasPrefix(vf.FileID, "file-") {
			if err := s.ai.DeleteFile(ctx, vf.FileID); err != nil {
				result.Errors++
				s.logger.Error("Ошибка удаления файла при purge",
					slog.String("openai_file_id", vf.FileID),
					slog.String("error", err.Error()),
				)
				continue
			}
			result.FilesDeleted++
		}

		s.throttle(ctx)
	}

	if resetState {
		reset, err := s.links.ResetIngestState(ctx, workspaceID)
		if err != nil {
			return result, err
		}
		result.StateReset = int(reset)
	}

	s.logger.Info("Purge завершён",
		slog.String("workspace_id", workspaceID),
		slog.Int("detached", result.Detached),
		slog.Int("files_deleted", result.FilesDeleted),
		slog.Int("errors", result.Errors),
		slog.Int("state_reset", result.StateReset),
	)

	return result, nil
}

// hardPurgeDefaultIterations — предохранитель от бесконечного цикла,
// если vector store продолжает отдавать записи.
const hardPurgeDefaultIterations = 10

// HardPurge повторяет листинг и отвязку до пустого листинга.
// Работает только по удалённому листингу, БД не трогается (сценарий
// очистки store после потери/пересоздания БД). Пустой первый листинг —
// store уже чист, ни одной итерации не засчитывается.
// maxIters <= 0 — лимит по умолчанию; deleteFiles — дополнительно
// удалять файлы хранилища (только с префиксом file-).
// Ненулевой remaining после всех итераций — сигнал для эскалации.
func (s *ReconcileService) HardPurge(ctx context.Context, workspaceID string, maxIters int, deleteFiles bool) (*HardPurgeResult, error) {
	vsID, err := s.resolveStore(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	if maxIters <= 0 {
		maxIters = hardPurgeDefaultIterations
	}

	result := &HardPurgeResult{}

	for result.Iterations < maxIters {
		vsFiles, err := s.ai.ListVectorStoreFiles(ctx, vsID)
		if err != nil {
			return result, fmt.Errorf("листинг vector store: %w", err)
		}
		if len(vsFiles) == 0 {
			break
		}
		result.Iterations++

		detachedThisPass := 0
		for _, vf := range vsFiles {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if err := s.ai.DetachFile(ctx, vsID, vf.ID); err != nil {
				s.logger.Error("Ошибка отвязки файла при hard purge",
					slog.String("vs_file_id", vf.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			result.Detached++
			detachedThisPass++
			purgeDetachedTotal.Inc()

			if deleteFiles && strings.HasPrefix(vf.FileID, "file-") {
				if err := s.ai.DeleteFile(ctx, vf.FileID); err != nil {
					s.logger.Error("Ошибка удаления файла при hard purge",
						slog.String("openai_file_id", vf.FileID),
						slog.String("error", err.Error()),
					)
				}
			}

			s.throttle(ctx)
		}

		// Ни одной успешной отвязки за проход — повтор не поможет
		if detachedThisPass == 0 {
			break
		}
	}

	// Контрольный листинг: сколько осталось после всех итераций
	vsFiles, err := s.ai.ListVectorStoreFiles(ctx, vsID)
	if err != nil {
		return result, fmt.Errorf("контрольный листинг vector store: %w", err)
	}
	result.Remaining = len(vsFiles)

	s.logger.Info("Hard purge завершён",
		slog.String("workspace_id", workspaceID),
		slog.Int("detached", result.Detached),
		slog.Int("iterations", result.Iterations),
		slog.Int("remaining", result.Remaining),
	)

	return result, nil
}

// Progress возвращает состояние индексации файлов vector store
// по статусам привязок. includeFiles — добавить полный листинг в ответ.
func (s *ReconcileService) Progress(ctx context.Context, workspaceID string, includeFiles bool) (*ProgressReport, error) {
	vsID, err := s.resolveStore(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	vsFiles, err := s.ai.ListVectorStoreFiles(ctx, vsID)
	if err != nil {
		return nil, fmt.Errorf("листинг vector store: %w", err)
	}

	report := &ProgressReport{
		WorkspaceID:   workspaceID,
		VectorStoreID: vsID,
		Total:         len(vsFiles),
	}
	for _, vf := range vsFiles {
		switch vf.Status {
		case "in_progress":
			report.InProgress++
		case "completed":
			report.Completed++
		case "failed":
			report.Failed++
		default:
			report.Other++
		}
	}
	report.Done = report.Total > 0 && report.InProgress == 0 && report.Failed == 0

	if includeFiles {
		report.Files = vsFiles
	}
	return report, nil
}

// ListFiles возвращает листинг файлов vector store workspace.
// label — необязательная логическая метка (agendas, minutes, ...);
// при отсутствии маппинга метки используется default store.
func (s *ReconcileService) ListFiles(ctx context.Context, workspaceID, label string) (string, []aiclient.VectorStoreFile, error) {
	vsID, err := s.mapping.LabelVectorStoreID(ctx, workspaceID, label)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, fmt.Errorf("vector store для workspace %s не настроен: %w", workspaceID, repository.ErrNotFound)
		}
		return "", nil, err
	}

	files, err := s.ai.ListVectorStoreFiles(ctx, vsID)
	if err != nil {
		return "", nil, fmt.Errorf("листинг vector store: %w", err)
	}
	return vsID, files, nil
}

// RemoveFile удаляет файл из workspace: отвязка от vector store,
// удаление из файлового хранилища и soft-delete записи в БД.
// Отсутствие на удалённой стороне (404) не считается ошибкой.
func (s *ReconcileService) RemoveFile(ctx context.Context, workspaceID, fileID string) error {
	link, err := s.links.Get(ctx, workspaceID, fileID)
	if err != nil {
		return err
	}
	if link.Deleted {
		return repository.ErrNotFound
	}

	if link.VSFileID != nil && *link.VSFileID != "" {
		vsID, err := s.resolveStore(ctx, workspaceID)
		if err != nil {
			return err
		}
		if err := s.ai.DetachFile(ctx, vsID, *link.VSFileID); err != nil {
			return fmt.Errorf("отвязка от vector store: %w", err)
		}
	}

	if link.OpenAIFileID != nil && *link.OpenAIFileID != "" {
		if err := s.ai.DeleteFile(ctx, *link.OpenAIFileID); err != nil {
			return fmt.Errorf("удаление файла из хранилища: %w", err)
		}
	}

	if err := s.links.SoftDelete(ctx, workspaceID, fileID); err != nil {
		return err
	}

	s.logger.Info("Файл удалён из workspace",
		slog.String("workspace_id", workspaceID),
		slog.String("file_id", fileID),
	)
	return nil
}

func (s *ReconcileService) throttle(ctx context.Context) {
	if s.delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(s.delay):
	}
}
