package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// StoreRepository — маппинг workspace → vector store.
// Таблица workspace_vector_stores хранит default store каждого workspace;
// workspace_vector_store_buckets — необязательный маппинг логических
// меток (agendas, minutes, ...) на отдельные stores.
type StoreRepository interface {
	// VectorStoreID возвращает default vector store workspace или ErrNotFound.
	VectorStoreID(ctx context.Context, workspaceID string) (string, error)
	// LabelVectorStoreID возвращает vector store для метки или ErrNotFound
	// (вызывающий код делает fallback на default store).
	LabelVectorStoreID(ctx context.Context, workspaceID, label string) (string, error)
}

// storeRepo — реализация StoreRepository через pgx.
type storeRepo struct {
	db DBTX
}

// NewStoreRepository создаёт репозиторий маппинга vector stores.
func NewStoreRepository(db DBTX) StoreRepository {
	return &storeRepo{db: db}
}

func (r *storeRepo) VectorStoreID(ctx context.Context, workspaceID string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`SELECT vector_store_id FROM workspace_vector_stores WHERE workspace_id = $1`,
		workspaceID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка получения vector_store_id: %w", err)
	}
	return id, nil
}

func (r *storeRepo) LabelVectorStoreID(ctx context.Context, workspaceID, label string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`SELECT vector_store_id FROM workspace_vector_store_buckets
		WHERE workspace_id = $1 AND label = $2`,
		workspaceID, label,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка получения vector_store_id для метки: %w", err)
	}
	return id, nil
}
