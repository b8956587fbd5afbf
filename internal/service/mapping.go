// Пакет service — бизнес-логика Ingest Module.
// MappingService — резолвинг workspace → vector store с LRU-кэшем.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/civicarchive/ingest-module/internal/repository"
)

// Prometheus-метрики кэша маппинга.
var (
	mappingCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_mapping_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш маппинга vector stores.",
	})
	mappingCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_mapping_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша маппинга vector stores.",
	})
)

// MappingService — резолвинг vector store для workspace.
// Маппинг меняется редко, поэтому кэшируется с TTL; каждый экземпляр
// модуля имеет собственный in-memory кэш (per-instance, stateless архитектура).
type MappingService struct {
	stores repository.StoreRepository
	cache  *expirable.LRU[string, string]
}

// NewMappingService создаёт сервис маппинга с LRU-кэшем.
// maxSize — максимальное количество записей, ttl — время жизни записи.
func NewMappingService(stores repository.StoreRepository, maxSize int, ttl time.Duration) *MappingService {
	cache := expirable.NewLRU[string, string](maxSize, nil, ttl)
	return &MappingService{stores: stores, cache: cache}
}

// VectorStoreID возвращает default vector store workspace.
// Возвращает repository.ErrNotFound, если маппинг не настроен.
func (m *MappingService) VectorStoreID(ctx context.Context, workspaceID string) (string, error) {
	return m.resolve(ctx, workspaceID, func(ctx context.Context) (string, error) {
		return m.stores.VectorStoreID(ctx, workspaceID)
	})
}

// LabelVectorStoreID возвращает vector store для логической метки
// (agendas, minutes, ...) с fallback на default store workspace.
func (m *MappingService) LabelVectorStoreID(ctx context.Context, workspaceID, label string) (string, error) {
	if label == "" {
		return m.VectorStoreID(ctx, workspaceID)
	}

	id, err := m.resolve(ctx, workspaceID+"/"+label, func(ctx context.Context) (string, error) {
		return m.stores.LabelVectorStoreID(ctx, workspaceID, label)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return m.VectorStoreID(ctx, workspaceID)
	}
	return id, err
}

// Invalidate сбрасывает кэш для workspace (default store).
func (m *MappingService) Invalidate(workspaceID string) {
	m.cache.Remove(workspaceID)
}

// resolve возвращает значение из кэша или загружает его через load.
// ErrNotFound не кэшируется: настройка маппинга должна подхватываться сразу.
func (m *MappingService) resolve(ctx context.Context, key string, load func(context.Context) (string, error)) (string, error) {
	if id, ok := m.cache.Get(key); ok {
		mappingCacheHitsTotal.Inc()
		return id, nil
	}
	mappingCacheMissesTotal.Inc()

	id, err := load(ctx)
	if err != nil {
		return "", err
	}
	m.cache.Add(key, id)
	return id, nil
}
