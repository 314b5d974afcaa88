package middleware

import (
	"net/http"

	"github.com/dans3367/pigeonpost/internal/config"
	"github.com/dans3367/pigeonpost/internal/database"
	"github.com/dans3367/pigeonpost/internal/logger"
)

// Middleware holds dependencies for HTTP middleware
type Middleware struct {
	cfg *config.Config
	log *logger.Logger
	rdb *database.Redis
}

// New creates a new Middleware instance
func New(cfg *config.Config, log *logger.Logger, rdb *database.Redis) *Middleware {
	return &Middleware{
		cfg: cfg,
		log: log,
		rdb: rdb,
	}
}

// Chain applies middlewares to a handler in the given order
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
