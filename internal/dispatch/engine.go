// Package dispatch sends a notification to a resolved target list through the
// delivery provider and keeps the NotificationLog audit trail.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-relay/internal/batch"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

const (
	// MaxMulticastTokens is the provider's per-call multicast limit.
	MaxMulticastTokens = 500
	defaultConcurrency = 4
)

// LogWriter is the slice of the registry the engine owns.
type LogWriter interface {
	CreateLog(ctx context.Context, l *push.NotificationLog) error
	UpdateLog(ctx context.Context, l *push.NotificationLog) error
}

// Request is one dispatch: who it is for, where it goes, and what it says.
type Request struct {
	Type      push.AddresseeType
	Recipient string
	Targets   []string
	Content   push.NotificationContent
}

type Engine struct {
	provider    push.Provider
	logs        LogWriter
	logger      *slog.Logger
	batchSize   int
	concurrency int
}

// Option tunes an Engine.
type Option func(*Engine)

// WithBatchSize overrides the multicast chunk size; values above the provider
// limit are clamped.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 && n <= MaxMulticastTokens {
			e.batchSize = n
		}
	}
}

// WithConcurrency sets how many multicast chunks may be in flight.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func NewEngine(provider push.Provider, logs LogWriter, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		provider:    provider,
		logs:        logs,
		logger:      logger.With("component", "DispatchEngine"),
		batchSize:   MaxMulticastTokens,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send fans req.Content out to req.Targets. An empty target list returns a
// no-targets result without touching the provider or the log. Per-target
// failures are reported in the result, never as an error; an error means the
// provider rejected every call, or the log could not be opened.
func (e *Engine) Send(ctx context.Context, req Request) (*push.DispatchResult, error) {
	if err := req.Content.Validate(); err != nil {
		return nil, err
	}
	if len(req.Targets) == 0 {
		dispatchTotal.WithLabelValues(string(req.Type), string(push.StatusNoTargets)).Inc()
		return push.NoTargetsResult(), nil
	}

	log := e.logger.With("addressee", req.Type, "recipient", req.Recipient, "targets", len(req.Targets))

	msg := push.Message{
		Content: req.Content,
		Data:    req.Content.DataPayload(),
	}
	entry, err := e.openLog(ctx, req, msg)
	if err != nil {
		log.Error("Failed to open notification log", "err", err)
		return nil, err
	}
	log = log.With("log_id", entry.ID)

	run := batch.Run(ctx, req.Targets, e.batchSize, e.concurrency, func(ctx context.Context, tokens []string) ([]push.Outcome, error) {
		return e.provider.SendMulticast(ctx, msg, tokens)
	})

	if run.FailedCalls > 0 {
		providerErrorsTotal.Add(float64(run.FailedCalls))
	}
	if run.AllFailed() {
		callErr := fmt.Errorf("%w: multicast rejected: %v", push.ErrProviderCall, run.Err)
		e.closeLog(ctx, entry, push.LogFailed, callErr.Error(), 0, len(req.Targets))
		dispatchTotal.WithLabelValues(string(req.Type), string(push.StatusFailed)).Inc()
		log.Error("Multicast rejected by provider", "err", run.Err)
		return nil, callErr
	}

	res := push.NewDispatchResult(len(req.Targets), run.Outcomes)
	res.LogID = entry.ID

	status, errMsg := push.LogSent, ""
	if !res.Success {
		status = push.LogFailed
		errMsg = failureMessage(res, run.Err)
		res.Message = errMsg
	}
	e.closeLog(ctx, entry, status, errMsg, res.SuccessCount, res.FailureCount)

	dispatchTotal.WithLabelValues(string(req.Type), string(res.Status)).Inc()
	dispatchTargetsTotal.WithLabelValues("success").Add(float64(res.SuccessCount))
	dispatchTargetsTotal.WithLabelValues("failure").Add(float64(res.FailureCount))

	log.Info("Dispatch complete", "status", res.Status, "success", res.SuccessCount, "failure", res.FailureCount)
	return res, nil
}

func (e *Engine) openLog(ctx context.Context, req Request, msg push.Message) (*push.NotificationLog, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode payload: %v", push.ErrInvalidInput, err)
	}
	entry := &push.NotificationLog{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Recipient: req.Recipient,
		Title:     req.Content.Title,
		Body:      req.Content.Body,
		Payload:   string(payload),
		Status:    push.LogPending,
	}
	if err := e.logs.CreateLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to create notification log: %w", err)
	}
	return entry, nil
}

// closeLog records the final status. A failed update leaves the entry Pending
// for the retention sweep; the dispatch itself already happened.
func (e *Engine) closeLog(ctx context.Context, entry *push.NotificationLog, status push.LogStatus, errMsg string, success, failure int) {
	entry.Status = status
	entry.ErrorMessage = errMsg
	entry.SuccessCount = success
	entry.FailureCount = failure
	if err := e.logs.UpdateLog(ctx, entry); err != nil {
		e.logger.Error("Failed to update notification log", "log_id", entry.ID, "status", status, "err", err)
	}
}

func failureMessage(res *push.DispatchResult, callErr error) string {
	reasons := make(map[string]int)
	for _, o := range push.Failed(res.Outcomes) {
		reasons[o.Reason]++
	}
	msg := fmt.Sprintf("%d of %d deliveries failed: %v", res.FailureCount, res.SuccessCount+res.FailureCount, reasons)
	if callErr != nil {
		msg += "; " + callErr.Error()
	}
	return msg
}
