// Package worker performs calculations requested over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-clinical/riskcalc/internal/calculation"
	"github.com/opensource-clinical/riskcalc/internal/domain"
	"github.com/opensource-clinical/riskcalc/internal/model"
)

// Calculator performs a calculation. *calculation.Service implements it.
type Calculator interface {
	Calculate(ctx context.Context, req *domain.CalculationRequest) (*domain.CalculationResult, error)
}

// Worker processes calculation requests asynchronously from the EventBus.
type Worker struct {
	bus        domain.EventBus
	calculator Calculator

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed int64
	failed    int64
}

// Config holds worker configuration.
type Config struct {
	// Concurrency is the number of requests processed at once.
	Concurrency int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, calculator Calculator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:        bus,
		calculator: calculator,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to calculation requests.
func (w *Worker) Start(cfg Config) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	w.sem = make(chan struct{}, cfg.Concurrency)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicCalculationRequested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicCalculationRequested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started",
		"topic", domain.TopicCalculationRequested,
		"concurrency", cfg.Concurrency,
	)
	return nil
}

// handleMessage hands the message to a goroutine once a concurrency slot is
// free, so that a slow calculation does not hold up the subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()

		if err := w.processRequest(w.ctx, msg); err != nil {
			slog.Error("calculation request failed",
				"message_id", msg.ID,
				"error", err,
			)
		}
	}()
	return nil
}

// processRequest calculates the request in msg and, if it was sent with
// Request, replies with the outcome.
func (w *Worker) processRequest(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.CalculationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.record(false)
		return w.reply(ctx, msg, &domain.CalculationReply{Error: "invalid calculation request: " + err.Error()})
	}

	result, err := w.calculator.Calculate(ctx, &req)
	w.record(err == nil)
	if err != nil {
		slog.Warn("calculation refused",
			"message_id", msg.ID,
			"specialty", req.Specialty,
			"error", err,
		)
		return w.reply(ctx, msg, errorReply(err))
	}

	slog.Info("calculation processed",
		"message_id", msg.ID,
		"calculation_id", result.ID,
		"specialty", result.Specialty,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return w.reply(ctx, msg, &domain.CalculationReply{Result: result})
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, reply *domain.CalculationReply) error {
	if msg.ReplyTo == "" {
		return nil
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}
	return w.bus.Reply(ctx, msg, payload)
}

func errorReply(err error) *domain.CalculationReply {
	reply := &domain.CalculationReply{Error: err.Error()}

	var (
		missingErr *model.MissingValuesError
		inputErr   *calculation.InputErrors
	)
	if errors.As(err, &missingErr) {
		reply.MissingVariables = missingErr.Keys()
	}
	if errors.As(err, &inputErr) {
		reply.InputErrors = inputErr.Errors
	}
	return reply
}

func (w *Worker) record(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		w.processed++
	} else {
		w.failed++
	}
}

// Stop unsubscribes and waits for in-flight calculations to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed,
		Failed:            w.failed,
	}
}
