// ingest.go — сервис ингестии: сканирование кандидатов, загрузка
// артефактов в удалённое файловое хранилище и привязка к vector store.
//
// Запускается как горутина с периодическим тикером (IM_SWEEP_INTERVAL)
// и по требованию через HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/civicarchive/ingest-module/internal/aiclient"
	"github.com/civicarchive/ingest-module/internal/domain/model"
	"github.com/civicarchive/ingest-module/internal/repository"
	"github.com/civicarchive/ingest-module/internal/retry"
)

// ErrSweepInProgress — sweep для workspace уже выполняется.
var ErrSweepInProgress = errors.New("sweep уже выполняется")

// AIClient — операции удалённого API, используемые сервисами.
// Реализуется aiclient.Client.
type AIClient interface {
	UploadFile(ctx context.Context, filename string, content []byte) (*aiclient.UploadedFile, error)
	DeleteFile(ctx context.Context, fileID string) error
	AttachFile(ctx context.Context, vectorStoreID, fileID string) (*aiclient.VectorStoreFile, error)
	DetachFile(ctx context.Context, vectorStoreID, vsFileID string) error
	ListVectorStoreFiles(ctx context.Context, vectorStoreID string) ([]aiclient.VectorStoreFile, error)
	GenerateProfile(ctx context.Context, filename, text string) (*aiclient.DocumentProfile, error)
}

// Prometheus метрики ингестии
var (
	ingestSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_ingest_sweeps_total",
		Help: "Общее количество проходов ингестии",
	})

	ingestFilesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_ingest_files_total",
		Help: "Общее количество успешно ингестированных файлов",
	})

	ingestFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_ingest_failures_total",
		Help: "Общее количество неудачных попыток ингестии файлов",
	})

	ingestPermanentFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_ingest_permanent_failures_total",
		Help: "Общее количество файлов, помеченных ingest_failed после исчерпания попыток",
	})

	ingestSweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "im_ingest_sweep_duration_seconds",
		Help:    "Длительность прохода ингестии в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})
)

// SweepResult — результат одного прохода ингестии.
type SweepResult struct {
	// Candidates — записи, выбранные из БД (до фильтра OCR-готовности)
	Candidates int `json:"candidates"`
	// Eligible — записи, прошедшие фильтр OCR-готовности
	Eligible int `json:"eligible"`
	// Ingested — успешно загруженные и привязанные файлы
	Ingested int `json:"ingested"`
	// Failed — файлы с ошибкой в этом проходе (попытка записана)
	Failed int `json:"failed"`
	// MarkedFailed — файлы, достигшие лимита попыток в этом проходе
	MarkedFailed int `json:"marked_failed"`
	// Duration — длительность прохода
	Duration time.Duration `json:"-"`
}

// IngestService — сервис ингестии файлов в vector store.
type IngestService struct {
	links    repository.LinkRepository
	mapping  *MappingService
	dl       Downloader
	ai       AIClient
	retryCfg retry.Config

	uploadDelay time.Duration
	batchLimit  int
	maxRetries  int

	workspaceID string
	interval    time.Duration
	logger      *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewIngestService создаёт сервис ингестии.
// workspaceID — workspace периодического sweep (пустая строка — только по требованию).
func NewIngestService(
	links repository.LinkRepository,
	mapping *MappingService,
	dl Downloader,
	ai AIClient,
	uploadDelay time.Duration,
	batchLimit int,
	maxRetries int,
	workspaceID string,
	interval time.Duration,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		links:       links,
		mapping:     mapping,
		dl:          dl,
		ai:          ai,
		retryCfg:    retry.DefaultConfig(),
		uploadDelay: uploadDelay,
		batchLimit:  batchLimit,
		maxRetries:  maxRetries,
		workspaceID: workspaceID,
		interval:    interval,
		logger:      logger.With(slog.String("component", "ingest")),
	}
}

// Start запускает фоновую горутину sweep с периодическим тикером.
// Если workspace для sweep не настроен, фоновый режим не включается.
func (s *IngestService) Start(ctx context.Context) {
	if s.workspaceID == "" {
		s.logger.Info("Периодический sweep выключен (IM_SWEEP_WORKSPACE_ID не задан)")
		return
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(sweepCtx)

	s.logger.Info("Периодический sweep запущен",
		slog.String("workspace_id", s.workspaceID),
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает фоновый sweep.
func (s *IngestService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("Периодический sweep остановлен")
}

// run — основной цикл фоновой горутины.
func (s *IngestService) run(ctx context.Context) {
	// Первый запуск — сразу после старта
	if _, err := s.RunOnce(ctx, s.workspaceID); err != nil {
		s.logger.Error("Ошибка sweep", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, s.workspaceID); err != nil {
				s.logger.Error("Ошибка sweep", slog.String("error", err.Error()))
			}
		}
	}
}

// RunAsync запускает проход ингестии в фоновой горутине.
// Возвращает ErrSweepInProgress, если другой проход ещё не завершился;
// результат фонового прохода доступен через progress/health.
func (s *IngestService) RunAsync(workspaceID string) error {
	if !s.mu.TryLock() {
		return ErrSweepInProgress
	}

	go func() {
		defer s.mu.Unlock()
		if _, err := s.runLocked(context.Background(), workspaceID); err != nil {
			s.logger.Error("Ошибка фонового sweep",
				slog.String("workspace_id", workspaceID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// RunOnce выполняет один проход ингестии для workspace.
// Возвращает ErrSweepInProgress, если другой проход ещё не завершился.
func (s *IngestService) RunOnce(ctx context.Context, workspaceID string) (*SweepResult, error) {
	if !s.mu.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.mu.Unlock()

	return s.runLocked(ctx, workspaceID)
}

// runLocked — один проход ингестии; вызывается только под s.mu.
//
// Порядок обработки:
//  1. Резолвинг vector store workspace
//  2. Выборка кандидатов из БД и фильтр OCR-готовности
//  3. Загрузка + привязка каждого файла, по одному, с паузой между
//     вызовами удалённого API (rate-limit throttle)
func (s *IngestService) runLocked(ctx context.Context, workspaceID string) (*SweepResult, error) {
	start := time.Now()
	ingestSweepsTotal.Inc()

	vsID, err := s.mapping.VectorStoreID(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("vector store для workspace %s не настроен: %w", workspaceID, repository.ErrNotFound)
		}
		return nil, err
	}

	// Fail-safe: ошибка выборки эквивалентна пустому результату,
	// один сбойный запрос не прерывает цикл сверки
	candidates, err := s.links.ListCandidates(ctx, workspaceID, s.batchLimit)
	if err != nil {
		s.logger.Error("Ошибка выборки кандидатов",
			slog.String("workspace_id", workspaceID),
			slog.String("error", err.Error()),
		)
		candidates = nil
	}

	// OCR-готовность фильтруется в памяти: скан без готового OCR-текста
	// остаётся кандидатом следующих проходов, попытка не тратится
	eligible := make([]*model.EligibleLink, 0, len(candidates))
	for _, el := range candidates {
		if el.File.OCRReady() {
			eligible = append(eligible, el)
		}
	}

	result := &SweepResult{Candidates: len(candidates), Eligible: len(eligible)}

	s.logger.Info("Sweep начат",
		slog.String("workspace_id", workspaceID),
		slog.Int("candidates", result.Candidates),
		slog.Int("eligible", result.Eligible),
	)

	for _, el := range eligible {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := s.processLink(ctx, vsID, el); err != nil {
			result.Failed++
			ingestFailuresTotal.Inc()

			retries, failed, recErr := s.links.RecordFailure(ctx, el.Link.WorkspaceID, el.Link.FileID, s.maxRetries)
			if recErr != nil {
				s.logger.Error("Ошибка записи счётчика попыток",
					slog.String("file_id", el.Link.FileID),
					slog.String("error", recErr.Error()),
				)
			} else if failed {
				result.MarkedFailed++
				ingestPermanentFailuresTotal.Inc()
			}

			s.logger.Error("Ошибка ингестии файла",
				slog.String("file_id", el.Link.FileID),
				slog.String("filename", el.File.Name),
				slog.Int("retries", retries),
				slog.Bool("ingest_failed", failed),
				slog.String("error", err.Error()),
			)
			continue
		}

		result.Ingested++
		ingestFilesTotal.Inc()
	}

	result.Duration = time.Since(start)
	ingestSweepDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info("Sweep завершён",
		slog.String("workspace_id", workspaceID),
		slog.Int("ingested", result.Ingested),
		slog.Int("failed", result.Failed),
		slog.Int("marked_failed", result.MarkedFailed),
		slog.Duration("duration", result.Duration),
	)

	return result, nil
}

// processLink обрабатывает один файл: артефакт → загрузка → привязка →
// персист. Состояние в БД меняется одним UPDATE только после успеха
// обоих удалённых вызовов.
func (s *IngestService) processLink(ctx context.Context, vsID string, el *model.EligibleLink) error {
	artifact, err := ResolveArtifact(ctx, s.dl, el, s.logger)
	if err != nil {
		return err
	}

	// Текст нужен только для номера ордонанса, ошибки не фатальны
	text, textErr := ExtractText(artifact)
	if textErr != nil {
		s.logger.Debug("Текст документа недоступен для метаданных",
			slog.String("file_id", el.Link.FileID),
			slog.String("error", textErr.Error()),
		)
	}
	md := DeriveMetadata(el.File.Name, text)

	uploaded, err := retry.DoResult(ctx, s.retryCfg, func() (*aiclient.UploadedFile, error) {
		return s.ai.UploadFile(ctx, artifact.Filename, artifact.Content)
	})
	if err != nil {
		return fmt.Errorf("загрузка файла: %w", err)
	}

	s.throttle(ctx)

	vsFile, err := retry.DoResult(ctx, s.retryCfg, func() (*aiclient.VectorStoreFile, error) {
		return s.ai.AttachFile(ctx, vsID, uploaded.ID)
	})
	if err != nil {
		// Загруженный, но не привязанный файл бесполезен — убираем
		if delErr := s.ai.DeleteFile(ctx, uploaded.ID); delErr != nil {
			s.logger.Warn("Не удалось удалить непривязанный файл",
				slog.String("openai_file_id", uploaded.ID),
				slog.String("error", delErr.Error()),
			)
		}
		return fmt.Errorf("привязка к vector store: %w", err)
	}

	res := repository.IngestResult{
		OpenAIFileID:    uploaded.ID,
		VSFileID:        vsFile.ID,
		HasOCR:          artifact.HasOCR,
		FileExt:         md.FileExt,
		DocType:         md.DocType,
		MeetingYear:     md.MeetingYear,
		MeetingMonth:    md.MeetingMonth,
		MeetingDay:      md.MeetingDay,
		MeetingBody:     md.MeetingBody,
		OrdinanceNumber: md.OrdinanceNumber,
	}
	if err := s.links.MarkIngested(ctx, el.Link.WorkspaceID, el.Link.FileID, res); err != nil {
		return fmt.Errorf("персист результата: %w", err)
	}

	s.logger.Debug("Файл ингестирован",
		slog.String("file_id", el.Link.FileID),
		slog.String("filename", artifact.Filename),
		slog.String("openai_file_id", uploaded.ID),
		slog.String("vs_file_id", vsFile.ID),
		slog.Bool("has_ocr", artifact.HasOCR),
	)

	s.throttle(ctx)
	return nil
}

// throttle — пауза между вызовами удалённого API внутри прохода.
func (s *IngestService) throttle(ctx context.Context) {
	if s.uploadDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(s.uploadDelay):
	}
}
