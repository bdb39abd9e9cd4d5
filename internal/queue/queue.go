// Package queue dispatches background stage jobs. Production sends them to
// SQS for the worker Lambda; the CLI and tests run them inline.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Kind names a background stage.
type Kind string

const (
	KindAnalyze    Kind = "analyze"
	KindCompliance Kind = "compliance"
	KindPlanning   Kind = "planning"
	KindLab        Kind = "lab"
	KindFieldForm  Kind = "field_form"
	KindReport     Kind = "report"
)

// Valid reports whether k is a known job kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAnalyze, KindCompliance, KindPlanning, KindLab, KindFieldForm, KindReport:
		return true
	}
	return false
}

// Job is one unit of background work for an order.
type Job struct {
	Kind    Kind   `json:"kind"`
	OrderID string `json:"orderId"`
	UserID  string `json:"userId,omitempty"`
	// Format is the report format for KindReport jobs.
	Format  string `json:"format,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// ParseJob decodes and validates a message body.
func ParseJob(body string) (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return Job{}, eris.Wrap(err, "parse job")
	}
	if !j.Kind.Valid() {
		return Job{}, eris.Errorf("unknown job kind %q", j.Kind)
	}
	if j.OrderID == "" {
		return Job{}, eris.New("job has no order id")
	}
	return j, nil
}

// Dispatcher enqueues jobs.
type Dispatcher interface {
	Enqueue(ctx context.Context, job Job) error
}

// SQSAPI is the subset of the SQS client we use.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSDispatcher sends jobs to an SQS queue.
type SQSDispatcher struct {
	client   SQSAPI
	queueURL string
}

// NewSQSDispatcher creates a Dispatcher from an SQS service client.
func NewSQSDispatcher(client SQSAPI, queueURL string) *SQSDispatcher {
	return &SQSDispatcher{client: client, queueURL: queueURL}
}

func (d *SQSDispatcher) Enqueue(ctx context.Context, job Job) error {
	if !job.Kind.Valid() {
		return eris.Errorf("unknown job kind %q", job.Kind)
	}
	body, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "marshal job")
	}
	_, err = d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return eris.Wrapf(err, "send %s job for %s", job.Kind, job.OrderID)
	}
	return nil
}

// HandlerFunc runs one job.
type HandlerFunc func(ctx context.Context, job Job) error

// Inline runs each job on its own goroutine in this process. A panicking job
// is recovered and logged. Wait blocks until every started job finished.
type Inline struct {
	handler HandlerFunc
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewInline creates an Inline dispatcher. The handler may be set later with
// SetHandler to break construction cycles.
func NewInline(handler HandlerFunc, logger *zap.Logger) *Inline {
	return &Inline{handler: handler, logger: logger}
}

// SetHandler replaces the job handler.
func (d *Inline) SetHandler(h HandlerFunc) {
	d.handler = h
}

func (d *Inline) Enqueue(ctx context.Context, job Job) error {
	if !job.Kind.Valid() {
		return eris.Errorf("unknown job kind %q", job.Kind)
	}
	if d.handler == nil {
		return eris.New("inline dispatcher has no handler")
	}
	// the job outlives the request that enqueued it
	jobCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("job panicked",
					zap.String("kind", string(job.Kind)),
					zap.String("order_id", job.OrderID),
					zap.String("panic", fmt.Sprint(r)))
			}
		}()
		if err := d.handler(jobCtx, job); err != nil {
			d.logger.Error("job failed",
				zap.String("kind", string(job.Kind)),
				zap.String("order_id", job.OrderID),
				zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until all enqueued jobs have returned.
func (d *Inline) Wait() {
	d.wg.Wait()
}

// Recorder collects jobs without running them (tests).
type Recorder struct {
	mu   sync.Mutex
	Jobs []Job
	Err  error
}

func (r *Recorder) Enqueue(_ context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Jobs = append(r.Jobs, job)
	return nil
}

// Kinds returns the kinds recorded so far, in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.Jobs))
	for i, j := range r.Jobs {
		out[i] = j.Kind
	}
	return out
}
