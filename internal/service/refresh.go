package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/milkmarket/milkd/internal/domain"
	"github.com/milkmarket/milkd/internal/usecase"
)

var tracer = otel.Tracer("refresh")

// RefreshService drives the synchronization cycle: one run at startup,
// then periodic runs, plus on-demand runs from the API. Completed cycles
// are announced on the signal channel.
type RefreshService struct {
	orchestrator *usecase.Orchestrator
	signal       *SignalService
	interval     time.Duration
}

func NewRefreshService(
	orchestrator *usecase.Orchestrator,
	signal *SignalService,
	interval time.Duration,
) *RefreshService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &RefreshService{
		orchestrator: orchestrator,
		signal:       signal,
		interval:     interval,
	}
}

// Run blocks until ctx is cancelled.
func (s *RefreshService) Run(ctx context.Context) {
	if _, err := s.RefreshNow(ctx); err != nil {
		slog.ErrorContext(
			ctx, "Initial refresh failed",
			slog.String("error", err.Error()),
			slog.String("module", "refresh"),
		)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RefreshNow(ctx); err != nil {
				slog.ErrorContext(
					ctx, "Periodic refresh failed",
					slog.String("error", err.Error()),
					slog.String("module", "refresh"),
				)
			}
		}
	}
}

func (s *RefreshService) RefreshNow(ctx context.Context) (*usecase.View, error) {
	ctx, span := tracer.Start(ctx, "Refresh.Service.RefreshNow")
	defer span.End()

	view, err := s.orchestrator.Refresh(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "refresh cycle failed")
	}

	if s.signal != nil {
		err = s.signal.Publish(ctx, Signal{
			Type:        "refreshed",
			RefreshedAt: view.RefreshedAt,
			Listings:    len(view.Listings),
			Threads:     len(view.Threads),
			Drops:       len(view.Drops),
		})
		if err != nil {
			span.RecordError(err)
			slog.WarnContext(
				ctx, "Failed to publish refresh signal",
				slog.String("error", err.Error()),
				slog.String("module", "refresh"),
			)
		}
	}

	return view, nil
}

func (s *RefreshService) View() *usecase.View {
	return s.orchestrator.View()
}

// InsertMessage surfaces an optimistic message in the live view.
func (s *RefreshService) InsertMessage(msg domain.Message) {
	s.orchestrator.InsertMessage(msg)
}
