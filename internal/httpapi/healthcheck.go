package httpapi

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/guruprasath0306/Silo-Monitor/internal/utils"
)

// BrokerStatus reports the MQTT connection. A nil BrokerStatus means MQTT is
// disabled.
type BrokerStatus interface {
	IsConnected() bool
}

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	db     *sql.DB
	broker BrokerStatus
	logger *slog.Logger
}

func NewHealthchecker(db *sql.DB, broker BrokerStatus, logger *slog.Logger) healthchecker {
	return &healthcheckerImpl{db: db, broker: broker, logger: logger}
}

// handleHealthz fails only on the database; a disconnected broker degrades
// live updates but not the service.
func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	var ok int
	if err := h.db.QueryRowContext(r.Context(), `SELECT 1`).Scan(&ok); err != nil {
		h.logger.Error("failed to check database connectivity", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
		return
	}
	mqtt := "disabled"
	if h.broker != nil {
		mqtt = "disconnected"
		if h.broker.IsConnected() {
			mqtt = "connected"
		}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "mqtt": mqtt})
}

func registerHealthcheck(mux *http.ServeMux, db *sql.DB, broker BrokerStatus, logger *slog.Logger) {
	healthchecker := NewHealthchecker(db, broker, logger)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
