// handler.go — объединение обработчиков API и маршрутизация.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// APIHandler — основной обработчик API Ingest Module.
type APIHandler struct {
	health      *HealthHandler
	vectorStore *VectorStoreHandler
	// adminOnly — middleware проверки scope для разрушающих операций
	// (purge, hard-purge); nil — auth выключен, проверки нет
	adminOnly func(http.Handler) http.Handler
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(health *HealthHandler, vectorStore *VectorStoreHandler, adminOnly func(http.Handler) http.Handler) *APIHandler {
	if adminOnly == nil {
		adminOnly = func(next http.Handler) http.Handler { return next }
	}
	return &APIHandler{
		health:      health,
		vectorStore: vectorStore,
		adminOnly:   adminOnly,
	}
}

// RegisterPublic регистрирует публичные маршруты (без аутентификации):
// health probes и Prometheus метрики.
func (h *APIHandler) RegisterPublic(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)
}

// RegisterAPI регистрирует маршруты операций vector store
// (за JWT middleware).
func (h *APIHandler) RegisterAPI(r chi.Router) {
	r.Route("/responses/vector-store", func(r chi.Router) {
		r.Post("/ingest/{workspaceID}", h.vectorStore.Ingest)
		r.Post("/profile/{workspaceID}", h.vectorStore.Profile)
		r.Get("/health/{workspaceID}", h.vectorStore.Health)
		r.With(h.adminOnly).Post("/purge/{workspaceID}", h.vectorStore.Purge)
		r.With(h.adminOnly).Post("/hard-purge/{workspaceID}", h.vectorStore.HardPurge)
		r.Get("/progress/{workspaceID}", h.vectorStore.Progress)
		r.Get("/files/{workspaceID}", h.vectorStore.ListFiles)
		r.Delete("/files/{workspaceID}/{fileID}", h.vectorStore.RemoveFile)
		r.Post("/backfill/{workspaceID}", h.vectorStore.Backfill)
	})
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
