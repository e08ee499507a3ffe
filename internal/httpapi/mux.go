package httpapi

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/guruprasath0306/Silo-Monitor/internal/feed"
)

// NewMux registers the health check and the change-feed stream. Feature
// modules add their own routes.
func NewMux(db *sql.DB, hub *feed.Hub, broker BrokerStatus, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db, broker, logger)
	mux.Handle("GET /api/v1/feed", feed.StreamHandler(hub, logger))
	return mux
}
