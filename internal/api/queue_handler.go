package api

import (
	"net/http"
)

// GetQueueStatus возвращает состояние очереди: количество runs по статусам
// и действующие лимиты параллельности.
// GET /api/v1/queue
func (h *Handler) GetQueueStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.runRepo.CountByStatus(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}

	Success(w, QueueStatusResponse{
		Counts:      byStatus,
		Concurrency: h.queueConfig.Concurrency,
	})
}
