package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/civicarchive/ingest-module/internal/repository"
)

// TestMappingService_CacheHit проверяет, что повторный резолвинг
// не обращается к репозиторию.
func TestMappingService_CacheHit(t *testing.T) {
	calls := 0
	stores := &mockStoreRepo{
		vectorStoreIDFn: func(_ context.Context, _ string) (string, error) {
			calls++
			return "vs_abc", nil
		},
	}
	m := NewMappingService(stores, 100, 5*time.Minute)

	for i := 0; i < 3; i++ {
		id, err := m.VectorStoreID(context.Background(), "ws-1")
		if err != nil {
			t.Fatalf("неожиданная ошибка: %v", err)
		}
		if id != "vs_abc" {
			t.Errorf("VectorStoreID = %q, ожидался %q", id, "vs_abc")
		}
	}

	if calls != 1 {
		t.Errorf("обращений к репозиторию = %d, ожидалось 1 (остальные из кэша)", calls)
	}
}

// TestMappingService_NotFoundNotCached проверяет, что ErrNotFound
// не кэшируется: после настройки маппинга резолвинг сразу работает.
func TestMappingService_NotFoundNotCached(t *testing.T) {
	configured := false
	stores := &mockStoreRepo{
		vectorStoreIDFn: func(_ context.Context, _ string) (string, error) {
			if !configured {
				return "", repository.ErrNotFound
			}
			return "vs_new", nil
		},
	}
	m := NewMappingService(stores, 100, 5*time.Minute)

	_, err := m.VectorStoreID(context.Background(), "ws-1")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("ожидался ErrNotFound, получено: %v", err)
	}

	// Маппинг настроен — следующий вызов должен вернуть store
	configured = true
	id, err := m.VectorStoreID(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("неожиданная ошибка после настройки маппинга: %v", err)
	}
	if id != "vs_new" {
		t.Errorf("VectorStoreID = %q, ожидался %q", id, "vs_new")
	}
}

// TestMappingService_LabelFallback проверяет fallback на default store,
// когда для метки маппинг не настроен.
func TestMappingService_LabelFallback(t *testing.T) {
	stores := &mockStoreRepo{
		labelVectorStoreIDFn: func(_ context.Context, _, label string) (string, error) {
			if label == "agendas" {
				return "vs_agendas", nil
			}
			return "", repository.ErrNotFound
		},
	}
	m := NewMappingService(stores, 100, 5*time.Minute)

	// Метка с маппингом
	id, err := m.LabelVectorStoreID(context.Background(), "ws-1", "agendas")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if id != "vs_agendas" {
		t.Errorf("LabelVectorStoreID(agendas) = %q, ожидался %q", id, "vs_agendas")
	}

	// Метка без маппинга — fallback на default (mockStoreRepo → vs_default)
	id, err = m.LabelVectorStoreID(context.Background(), "ws-1", "minutes")
	if err != nil {
		t.Fatalf("неожиданная ошибка fallback: %v", err)
	}
	if id != "vs_default" {
		t.Errorf("LabelVectorStoreID(minutes) = %q, ожидался fallback %q", id, "vs_default")
	}

	// Пустая метка — сразу default store
	id, err = m.LabelVectorStoreID(context.Background(), "ws-1", "")
	if err != nil {
		t.Fatalf("неожиданная ошибка для пустой метки: %v", err)
	}
	if id != "vs_default" {
		t.Errorf("LabelVectorStoreID(\"\") = %q, ожидался %q", id, "vs_default")
	}
}

// TestMappingService_Invalidate проверяет сброс кэша для workspace.
func TestMappingService_Invalidate(t *testing.T) {
	current := "vs_old"
	calls := 0
	stores := &mockStoreRepo{
		vectorStoreIDFn: func(_ context.Context, _ string) (string, error) {
			calls++
			return current, nil
		},
	}
	m := NewMappingService(stores, 100, 5*time.Minute)

	id, _ := m.VectorStoreID(context.Background(), "ws-1")
	if id != "vs_old" {
		t.Fatalf("VectorStoreID = %q, ожидался %q", id, "vs_old")
	}

	// Маппинг перенастроен, кэш сброшен
	current = "vs_new"
	m.Invalidate("ws-1")

	id, _ = m.VectorStoreID(context.Background(), "ws-1")
	if id != "vs_new" {
		t.Errorf("VectorStoreID после Invalidate = %q, ожидался %q", id, "vs_new")
	}
	if calls != 2 {
		t.Errorf("обращений к репозиторию = %d, ожидалось 2", calls)
	}
}

// TestMappingService_TTLExpiration проверяет истечение TTL записи кэша.
func TestMappingService_TTLExpiration(t *testing.T) {
	calls := 0
	stores := &mockStoreRepo{
		vectorStoreIDFn: func(_ context.Context, _ string) (string, error) {
			calls++
			return "vs_ttl", nil
		},
	}
	// Короткий TTL = 50ms для теста
	m := NewMappingService(stores, 100, 50*time.Millisecond)

	_, _ = m.VectorStoreID(context.Background(), "ws-1")
	_, _ = m.VectorStoreID(context.Background(), "ws-1")
	if calls != 1 {
		t.Fatalf("обращений до истечения TTL = %d, ожидалось 1", calls)
	}

	// Ждём истечения TTL
	time.Sleep(100 * time.Millisecond)

	_, _ = m.VectorStoreID(context.Background(), "ws-1")
	if calls != 2 {
		t.Errorf("обращений после истечения TTL = %d, ожидалось 2", calls)
	}
}
