package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"quote-archiver/internal/usecase"
)

type ArchiveRunner interface {
	RunArchival(ctx context.Context) (usecase.ArchiveResult, error)
}

// triggerEvent is the subset of an EventBridge scheduled event that is
// logged. Ad hoc invocations may send any payload, or none.
type triggerEvent struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	DetailType string `json:"detail-type"`
}

// ArchiveHandler runs the archival job once per invocation. It takes no
// input parameters; the event payload is only logged.
type ArchiveHandler struct {
	runner ArchiveRunner
	logger *slog.Logger
}

func NewArchiveHandler(runner ArchiveRunner, logger *slog.Logger) (*ArchiveHandler, error) {
	if runner == nil {
		return nil, errors.New("handler: archive runner must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveHandler{runner: runner, logger: logger}, nil
}

func (h *ArchiveHandler) Handle(ctx context.Context, raw json.RawMessage) (usecase.ArchiveResult, error) {
	var ev triggerEvent
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &ev)
	}
	source := ev.Source
	if source == "" {
		source = "manual"
	}
	h.logger.Info("archival triggered", "source", source, "detailType", ev.DetailType, "eventId", ev.ID)

	res, err := h.runner.RunArchival(ctx)
	if err != nil {
		h.logger.Error("archival run failed",
			"runId", res.RunID,
			"archivedMessages", res.ArchivedMessageCount,
			"deletedNotifications", res.DeletedNotificationCount,
			"err", err,
		)
		return res, err
	}
	return res, nil
}
