package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/imageflow/internal/metrics"
	"github.com/BaSui01/imageflow/multimodal"
	"github.com/BaSui01/imageflow/providers"
	"github.com/BaSui01/imageflow/retry"
	"github.com/BaSui01/imageflow/types"
)

// DefaultConcurrency is the fixed cap on concurrently executing workers
// per batch. The effective worker count is min(cap, batch size).
const DefaultConcurrency = 10

// Dispatcher turns one logical "generate N images" request into N
// independent upstream calls executed by a bounded worker pool, applying
// the retry policy per call and streaming results to the caller's sink.
//
// A Dispatcher is stateless across batches: each Run owns its own slot
// queue, progress counter, and cancellation signal, so concurrent Runs
// do not interact.
type Dispatcher struct {
	provider      providers.Provider
	policy        retry.Policy
	concurrency   int
	maxImageBytes int
	logger        *zap.Logger
	collector     *metrics.Collector
	tracer        trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithConcurrency overrides the fixed worker cap.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithMaxImageBytes overrides the per-image size cutoff used during
// normalization.
func WithMaxImageBytes(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxImageBytes = n
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(d *Dispatcher) { d.collector = c }
}

// NewDispatcher creates a dispatcher bound to one provider adapter.
func NewDispatcher(provider providers.Provider, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		provider:      provider,
		policy:        retry.DefaultPolicy(),
		concurrency:   DefaultConcurrency,
		maxImageBytes: multimodal.DefaultMaxImageBytes,
		logger:        logger.With(zap.String("component", "dispatcher")),
		tracer:        otel.Tracer("imageflow/batch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// batchState is the per-Run shared state. The mutex serializes sink
// callbacks so the progress counter and the values it reports stay
// consistent across workers.
type batchState struct {
	mu        sync.Mutex
	completed int
	total     int
	sink      EventSink
}

// resolveSlot emits the events for one resolved slot and bumps progress.
// Called at most once per slot.
func (s *batchState) resolveSlot(images []types.GeneratedImage, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, img := range images {
		s.sink.OnImage(img)
	}
	if text != "" {
		s.sink.OnText(text)
	}
	s.completed++
	s.sink.OnProgress(s.completed, s.total)
}

// Run executes one batch. It returns an error only for pre-flight
// validation failures; once workers have started the batch always runs to
// completion (or cancellation) and Run returns nil after every worker has
// returned. No worker outlives Run.
func (d *Dispatcher) Run(ctx context.Context, req *types.BatchRequest, sink EventSink) error {
	if err := req.Validate(); err != nil {
		return err
	}

	parts, err := multimodal.Normalize(req.Prompt, req.PriorImages, req.FreshImages, d.maxImageBytes, d.logger)
	if err != nil {
		return err
	}

	n := req.BatchSize
	workers := min(d.concurrency, n)

	ctx, span := d.tracer.Start(ctx, "batch.run", trace.WithAttributes(
		attribute.String("provider", d.provider.Name()),
		attribute.Int("batch.size", n),
		attribute.Int("batch.workers", workers),
	))
	defer span.End()

	d.logger.Info("starting batch",
		zap.String("provider", d.provider.Name()),
		zap.Int("batch_size", n),
		zap.Int("workers", workers),
		zap.Int("parts", len(parts)),
	)

	// Slot queue: preloaded and closed, so claiming is a single channel
	// receive. First claim wins; a slot is consumed at most once.
	slots := make(chan int, n)
	for i := 0; i < n; i++ {
		slots <- i
	}
	close(slots)

	state := &batchState{total: n, sink: sink}
	start := time.Now()

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				// Cancellation gate: checked before claiming a new slot.
				if ctx.Err() != nil {
					return nil
				}
				slot, ok := <-slots
				if !ok {
					return nil
				}
				d.runSlot(ctx, slot, parts, req.Options, state)
			}
		})
	}
	_ = g.Wait()

	outcome := "completed"
	if ctx.Err() != nil {
		outcome = "cancelled"
		span.SetAttributes(attribute.Bool("batch.cancelled", true))
	}
	d.collector.RecordBatch(d.provider.Name(), outcome, time.Since(start))

	d.logger.Info("batch finished",
		zap.String("outcome", outcome),
		zap.Int("completed", state.completed),
		zap.Int("total", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// runSlot executes one task slot through the retry policy and emits its
// terminal events. Cancellation produces silence for the slot, not an
// error event.
func (d *Dispatcher) runSlot(ctx context.Context, slot int, parts []multimodal.Part, opts types.ImageOptions, state *batchState) {
	ctx, span := d.tracer.Start(ctx, "batch.slot", trace.WithAttributes(attribute.Int("slot", slot)))
	defer span.End()

	logger := d.logger.With(zap.Int("slot", slot))
	attempts := 0

	result, err := retry.Do(ctx, d.policy, logger, func(ctx context.Context) (*providers.Result, error) {
		attempts++
		if attempts > 1 {
			d.collector.RecordRetry(d.provider.Name())
		}
		res, err := d.provider.Invoke(ctx, parts, opts)
		code := "ok"
		if err != nil {
			code = string(types.GetErrorCode(err))
		}
		d.collector.RecordAttempt(d.provider.Name(), code)
		return res, err
	})

	if err != nil {
		if ctx.Err() != nil {
			// Abandoned in-flight slot: no synthetic error result.
			logger.Debug("slot abandoned after cancellation")
			return
		}
		span.RecordError(err)
		logger.Warn("slot degraded to error result after exhausted retries",
			zap.Int("attempts", attempts),
			zap.String("error_code", string(types.GetErrorCode(err))),
			zap.Error(err),
		)
		d.collector.RecordTask(d.provider.Name(), string(types.StatusError))
		state.resolveSlot([]types.GeneratedImage{{
			ID:     uuid.NewString(),
			Status: types.StatusError,
			Err:    err.Error(),
		}}, "")
		return
	}

	images := make([]types.GeneratedImage, 0, len(result.Images))
	for _, img := range result.Images {
		images = append(images, types.GeneratedImage{
			ID:       uuid.NewString(),
			Data:     img.Data,
			MimeType: img.MimeType,
			Status:   types.StatusSuccess,
		})
	}

	d.collector.RecordTask(d.provider.Name(), string(types.StatusSuccess))
	d.collector.RecordImages(d.provider.Name(), len(images))
	logger.Debug("slot resolved",
		zap.Int("attempts", attempts),
		zap.Int("images", len(images)),
		zap.Bool("has_text", result.Text != ""),
	)
	state.resolveSlot(images, result.Text)
}
