// profile.go — Profiling Pass: генерация структурированных профилей
// документов (summary, keywords, сущности) через chat/completions.
//
// Профилирование best-effort: ошибка генерации не влияет на состояние
// ингестии и не тратит ingest_retries.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/civicarchive/ingest-module/internal/domain/model"
	"github.com/civicarchive/ingest-module/internal/repository"
)

// Prometheus метрики профилирования
var (
	profileGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_profile_generated_total",
		Help: "Общее количество сгенерированных профилей документов",
	})

	profileSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_profile_skipped_total",
		Help: "Общее количество документов, пропущенных из-за недостатка текста",
	})

	profileErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_profile_errors_total",
		Help: "Общее количество ошибок генерации профилей",
	})

	profileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "im_profile_duration_seconds",
		Help:    "Длительность прохода профилирования в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})
)

// ProfileResult — результат одного прохода профилирования.
type ProfileResult struct {
	// Candidates — записи без профиля, выбранные из БД
	Candidates int `json:"candidates"`
	// Eligible — кандидаты, прошедшие фильтр OCR-готовности
	Eligible int `json:"eligible"`
	// Profiled — успешно сгенерированные профили
	Profiled int `json:"profiled"`
	// Skipped — документы без достаточного текста (останутся кандидатами)
	Skipped int `json:"skipped"`
	// Failed — ошибки генерации или персиста
	Failed int `json:"failed"`
}

// ProfileService — сервис генерации профилей документов.
type ProfileService struct {
	links  repository.LinkRepository
	dl     Downloader
	ai     AIClient
	delay  time.Duration
	logger *slog.Logger

	mu sync.Mutex // защита от параллельного запуска RunOnce
}

// NewProfileService создаёт сервис профилирования.
func NewProfileService(
	links repository.LinkRepository,
	dl Downloader,
	ai AIClient,
	delay time.Duration,
	logger *slog.Logger,
) *ProfileService {
	return &ProfileService{
		links:  links,
		dl:     dl,
		ai:     ai,
		delay:  delay,
		logger: logger.With(slog.String("component", "profile")),
	}
}

// RunAsync запускает проход профилирования в фоновой горутине.
// Возвращает ErrSweepInProgress, если другой проход ещё не завершился.
func (s *ProfileService) RunAsync(workspaceID string, limit int) error {
	if !s.mu.TryLock() {
		return ErrSweepInProgress
	}

	go func() {
		defer s.mu.Unlock()
		if _, err := s.runLocked(context.Background(), workspaceID, limit); err != nil {
			s.logger.Error("Ошибка фонового профилирования",
				slog.String("workspace_id", workspaceID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// RunOnce выполняет один проход профилирования для workspace.
// Возвращает ErrSweepInProgress, если другой проход ещё не завершился.
func (s *ProfileService) RunOnce(ctx context.Context, workspaceID string, limit int) (*ProfileResult, error) {
	if !s.mu.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.mu.Unlock()

	return s.runLocked(ctx, workspaceID, limit)
}

// runLocked — один проход профилирования; вызывается только под s.mu.
func (s *ProfileService) runLocked(ctx context.Context, workspaceID string, limit int) (*ProfileResult, error) {
	start := time.Now()

	// Fail-safe: ошибка выборки эквивалентна пустому результату
	candidates, err := s.links.ListUnprofiledCandidates(ctx, workspaceID, limit)
	if err != nil {
		s.logger.Error("Ошибка выборки кандидатов профилирования",
			slog.String("workspace_id", workspaceID),
			slog.String("error", err.Error()),
		)
		candidates = nil
	}

	// Тот же фильтр OCR-готовности, что и в проходе ингестии:
	// скан без распознанного текста профилировать рано
	eligible := make([]*model.EligibleLink, 0, len(candidates))
	for _, el := range candidates {
		if el.File.OCRReady() {
			eligible = append(eligible, el)
		}
	}

	result := &ProfileResult{
		Candidates: len(candidates),
		Eligible:   len(eligible),
	}

	s.logger.Info("Проход профилирования начат",
		slog.String("workspace_id", workspaceID),
		slog.Int("candidates", result.Candidates),
		slog.Int("eligible", result.Eligible),
	)

	for _, el := range eligible {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		switch outcome := s.profileOne(ctx, el); outcome {
		case profileOutcomeOK:
			result.Profiled++
			profileGeneratedTotal.Inc()
		case profileOutcomeSkipped:
			result.Skipped++
			profileSkippedTotal.Inc()
		case profileOutcomeFailed:
			result.Failed++
			profileErrorsTotal.Inc()
		}
	}

	duration := time.Since(start)
	profileDurationSeconds.Observe(duration.Seconds())

	s.logger.Info("Проход профилирования завершён",
		slog.String("workspace_id", workspaceID),
		slog.Int("profiled", result.Profiled),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", duration),
	)

	return result, nil
}

type profileOutcome int

const (
	profileOutcomeOK profileOutcome = iota
	profileOutcomeSkipped
	profileOutcomeFailed
)

// profileOne генерирует и персистит профиль одного документа.
// Документы без достаточного текста пропускаются БЕЗ пометки
// doc_profile_processed: OCR-текст может появиться позже.
func (s *ProfileService) profileOne(ctx context.Context, el *model.EligibleLink) profileOutcome {
	artifact, err := ResolveArtifact(ctx, s.dl, el, s.logger)
	if err != nil {
		s.logger.Error("Ошибка получения артефакта для профиля",
			slog.String("file_id", el.Link.FileID),
			slog.String("error", err.Error()),
		)
		return profileOutcomeFailed
	}

	text, err := ExtractText(artifact)
	if err != nil {
		s.logger.Error("Ошибка извлечения текста для профиля",
			slog.String("file_id", el.Link.FileID),
			slog.String("error", err.Error()),
		)
		return profileOutcomeFailed
	}

	prepared, ok := PrepareProfileText(text)
	if !ok {
		s.logger.Debug("Недостаточно текста для профиля",
			slog.String("file_id", el.Link.FileID),
			slog.Int("chars", len(text)),
		)
		return profileOutcomeSkipped
	}

	profile, err := s.ai.GenerateProfile(ctx, el.File.Name, prepared)
	if err != nil {
		s.logger.Error("Ошибка генерации профиля",
			slog.String("file_id", el.Link.FileID),
			slog.String("error", err.Error()),
		)
		return profileOutcomeFailed
	}

	s.throttle(ctx)

	entities, err := json.Marshal(profile.Entities)
	if err != nil {
		s.logger.Error("Ошибка сериализации сущностей профиля",
			slog.String("file_id", el.Link.FileID),
			slog.String("error", err.Error()),
		)
		return profileOutcomeFailed
	}

	upd := repository.ProfileUpdate{
		Summary:  profile.Summary,
		Keywords: profile.Keywords,
		Entities: entities,
	}
	if err := s.links.SaveProfile(ctx, el.Link.WorkspaceID, el.Link.FileID, upd); err != nil {
		s.logger.Error("Ошибка сохранения профиля",
			slog.String("file_id", el.Link.FileID),
			slog.String("error", err.Error()),
		)
		return profileOutcomeFailed
	}

	s.logger.Debug("Профиль документа сохранён",
		slog.String("file_id", el.Link.FileID),
		slog.Int("keywords", len(profile.Keywords)),
	)
	return profileOutcomeOK
}

func (s *ProfileService) throttle(ctx context.Context) {
	if s.delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(s.delay):
	}
}
