package main

import (
	"context"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
	"github.com/dylan-vpa/serambienteai-sub000/internal/pipeline"
	"github.com/dylan-vpa/serambienteai-sub000/internal/storage"
	"github.com/dylan-vpa/serambienteai-sub000/internal/store"
)

// Attacher records an uploaded file on its order and starts the stage it
// feeds.
type Attacher interface {
	AttachFile(ctx context.Context, orderID string, kind storage.FileKind, key string) error
}

// Handler holds dependencies for the Intake Lambda.
type Handler struct {
	attacher Attacher
	logger   *zap.Logger
}

// Handle processes S3 PUT events for uploaded order files. Keys outside
// orders/{id}/{kind}/ are ignored, which includes generated reports. An
// upload that can never be attached (order gone, status that does not
// accept it) is logged and dropped; any other failure is returned so S3
// retries the invocation.
func (h *Handler) Handle(ctx context.Context, event events.S3Event) error {
	for _, record := range event.Records {
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			key = record.S3.Object.Key
		}
		log := h.logger.With(zap.String("bucket", record.S3.Bucket.Name), zap.String("key", key))

		orderID, kind, ok := storage.ParseUploadKey(key)
		if !ok {
			log.Info("ignoring key outside the order upload layout")
			continue
		}

		log = log.With(zap.String("order_id", orderID), zap.String("kind", string(kind)))
		log.Info("processing upload")
		if err := h.attacher.AttachFile(ctx, orderID, kind, key); err != nil {
			if permanent(err) {
				log.Warn("upload dropped", zap.Error(err))
				continue
			}
			return eris.Wrapf(err, "attach %s", key)
		}
	}
	return nil
}

func permanent(err error) bool {
	return eris.Is(err, store.ErrNotFound) ||
		eris.Is(err, oit.ErrInvalidTransition) ||
		eris.Is(err, pipeline.ErrInvalidInput)
}
