package http

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/E1venking/Kuleli-English-Centre/internal/client"
	"github.com/E1venking/Kuleli-English-Centre/pkg/response"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	log         zerolog.Logger
	redisClient *client.RedisClient
	dbClient    *client.PostgresClient
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(log zerolog.Logger, redisClient *client.RedisClient, dbClient *client.PostgresClient) *HealthHandler {
	return &HealthHandler{
		log:         log,
		redisClient: redisClient,
		dbClient:    dbClient,
	}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Live handles GET /live.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Ready handles GET /ready. It reports the state of the optional backing
// stores without failing the probe when they are not configured.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := true

	if h.redisClient != nil {
		if err := h.redisClient.Ping(ctx); err != nil {
			checks["redis"] = "down"
			ready = false
		} else {
			checks["redis"] = "ok"
		}
	}

	if h.dbClient != nil && h.dbClient.Pool != nil {
		if err := h.dbClient.Pool.Ping(ctx); err != nil {
			checks["database"] = "down"
			ready = false
		} else {
			checks["database"] = "ok"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, map[string]interface{}{"ready": ready, "checks": checks})
}
