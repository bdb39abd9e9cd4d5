package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/queue"
)

// Runner executes background jobs and the stuck-order sweep.
type Runner interface {
	HandleJob(ctx context.Context, job queue.Job) error
	Reconcile(ctx context.Context, stuckAfter time.Duration) (int, error)
}

// Handler holds dependencies for the Worker Lambda.
type Handler struct {
	runner     Runner
	stuckAfter time.Duration
	logger     *zap.Logger
}

type envelope struct {
	Source     string            `json:"source"`
	DetailType string            `json:"detail-type"`
	Records    []json.RawMessage `json:"Records"`
}

// Handle accepts either an SQS batch of jobs or the scheduled EventBridge
// sweep. Failed jobs are reported individually so only they are redelivered;
// malformed messages are dropped.
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) (events.SQSEventResponse, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return events.SQSEventResponse{}, eris.Wrap(err, "parse event")
	}

	if env.Source == "aws.events" || env.DetailType == "Scheduled Event" {
		moved, err := h.runner.Reconcile(ctx, h.stuckAfter)
		if err != nil {
			return events.SQSEventResponse{}, eris.Wrap(err, "reconcile")
		}
		h.logger.Info("reconcile finished", zap.Int("moved", moved))
		return events.SQSEventResponse{}, nil
	}

	var event events.SQSEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return events.SQSEventResponse{}, eris.Wrap(err, "parse SQS event")
	}
	return h.handleJobs(ctx, event), nil
}

func (h *Handler) handleJobs(ctx context.Context, event events.SQSEvent) events.SQSEventResponse {
	var resp events.SQSEventResponse
	for _, record := range event.Records {
		log := h.logger.With(zap.String("message_id", record.MessageId))
		job, err := queue.ParseJob(record.Body)
		if err != nil {
			log.Error("dropping malformed job", zap.Error(err))
			continue
		}
		if err := h.runner.HandleJob(ctx, job); err != nil {
			log.Error("job failed, will retry",
				zap.String("order_id", job.OrderID),
				zap.String("kind", string(job.Kind)),
				zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return resp
}
