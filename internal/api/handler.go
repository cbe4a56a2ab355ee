package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/metamigrate/internal/domain"
	"github.com/shaiso/metamigrate/internal/repo"
	"github.com/shaiso/metamigrate/internal/trigger"
)

// RunReader — чтение runs.
type RunReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runs    RunReader
	starter trigger.Starter
	logger  *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Runs    RunReader
	Starter trigger.Starter
	Logger  *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runs:    cfg.Runs,
		starter: cfg.Starter,
		logger:  logger,
	}
}
