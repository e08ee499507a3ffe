package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/guruprasath0306/Silo-Monitor/internal/config"
)

func NewServer(cfg config.Config, handler http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           requestLogger(logger, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
