package handler

import (
	"encoding/json"
	"net/http"

	"github.com/dans3367/pigeonpost/internal/config"
	"github.com/dans3367/pigeonpost/internal/database"
	"github.com/dans3367/pigeonpost/internal/logger"
	"github.com/dans3367/pigeonpost/internal/repository"
	"github.com/dans3367/pigeonpost/internal/schedule"
	"github.com/dans3367/pigeonpost/internal/workflow"
)

// Handler holds all HTTP handlers
type Handler struct {
	db          *database.Postgres
	rdb         *database.Redis
	log         *logger.Logger
	cfg         *config.Config
	engine      *workflow.Engine
	registry    *schedule.Registry
	intents     *repository.IntentRepository
	activityLog *repository.ActivityLogRepository
}

// New creates a new Handler instance
func New(db *database.Postgres, rdb *database.Redis, log *logger.Logger, cfg *config.Config, engine *workflow.Engine, registry *schedule.Registry, intents *repository.IntentRepository, activityLog *repository.ActivityLogRepository) *Handler {
	return &Handler{
		db:          db,
		rdb:         rdb,
		log:         log,
		cfg:         cfg,
		engine:      engine,
		registry:    registry,
		intents:     intents,
		activityLog: activityLog,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}
