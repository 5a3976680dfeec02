package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/multimodal"
	"github.com/BaSui01/imageflow/providers"
	"github.com/BaSui01/imageflow/retry"
	"github.com/BaSui01/imageflow/types"
)

// stubProvider counts invocations and delegates to fn. The call number
// passed to fn is global across all slots.
type stubProvider struct {
	calls atomic.Int64
	fn    func(ctx context.Context, call int64) (*providers.Result, error)
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Invoke(ctx context.Context, parts []multimodal.Part, opts types.ImageOptions) (*providers.Result, error) {
	return s.fn(ctx, s.calls.Add(1))
}

func oneImage() *providers.Result {
	return &providers.Result{Images: []providers.ImageData{{Data: []byte("img"), MimeType: "image/png"}}}
}

// recordingSink captures all events. The dispatcher serializes callbacks,
// but the mutex also lets tests read concurrently with a running batch.
type recordingSink struct {
	mu       sync.Mutex
	images   []types.GeneratedImage
	texts    []string
	progress []int
	total    int
}

func (r *recordingSink) OnImage(img types.GeneratedImage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images = append(r.images, img)
}

func (r *recordingSink) OnText(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *recordingSink) OnProgress(completed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, completed)
	r.total = total
}

func validRequest(batchSize int) *types.BatchRequest {
	return &types.BatchRequest{
		Prompt:    "a lighthouse at dusk",
		BatchSize: batchSize,
		Provider:  types.ProviderConfig{Kind: types.ProviderGemini, APIKey: "k"},
	}
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond}
}

func TestRun_EmitsExactlyOneOutcomePerSlot(t *testing.T) {
	provider := &stubProvider{fn: func(ctx context.Context, call int64) (*providers.Result, error) {
		return oneImage(), nil
	}}
	sink := &recordingSink{}

	d := NewDispatcher(provider, zap.NewNop(), WithRetryPolicy(fastPolicy()))
	require.NoError(t, d.Run(context.Background(), validRequest(5), sink))

	assert.Len(t, sink.images, 5)
	require.Len(t, sink.progress, 5)
	assert.Equal(t, 5, sink.total)
	for i, completed := range sink.progress {
		assert.Equal(t, i+1, completed, "progress must be strictly increasing by one")
	}
	for _, img := range sink.images {
		assert.Equal(t, types.StatusSuccess, img.Status)
		assert.NotEmpty(t, img.ID)
	}
}

func TestRun_NoDuplicateSlotClaims(t *testing.T) {
	var inFlight, maxInFlight atomic.Int64

	provider := &stubProvider{fn: func(ctx context.Context, call int64) (*providers.Result, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond) // let workers overlap
		return oneImage(), nil
	}}
	sink := &recordingSink{}

	d := NewDispatcher(provider, zap.NewNop(), WithRetryPolicy(retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond}))
	require.NoError(t, d.Run(context.Background(), validRequest(20), sink))

	assert.Equal(t, int64(20), provider.calls.Load(), "each slot consumed exactly once")
	assert.LessOrEqual(t, maxInFlight.Load(), int64(DefaultConcurrency))
	assert.Len(t, sink.progress, 20)
}

func TestRun_RetryBackoffThenSuccess(t *testing.T) {
	transient := types.NewError(types.ErrUpstreamError, "boom")
	provider := &stubProvider{fn: func(ctx context.Context, call int64) (*providers.Result, error) {
		if call < 3 {
			return nil, transient
		}
		return oneImage(), nil
	}}
	sink := &recordingSink{}

	policy := retry.Policy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond}
	d := NewDispatcher(provider, zap.NewNop(), WithRetryPolicy(policy))

	start := time.Now()
	require.NoError(t, d.Run(context.Background(), validRequest(1), sink))
	elapsed := time.Since(start)

	assert.Equal(t, int64(3), provider.calls.Load())
	require.Len(t, sink.images, 1)
	assert.Equal(t, types.StatusSuccess, sink.images[0].Status)
	assert.Equal(t, []int{1}, sink.progress)
	// Two backoff waits: 10ms then 20ms.
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestRun_RetryExhaustionDegradesSlot(t *testing.T) {
	provider := &stubProvider{fn: func(ctx context.Context, call int64) (*providers.Result, error) {
		return nil, types.NewError(types.ErrContentFiltered, "blocked")
	}}
	sink := &recordingSink{}

	d := NewDispatcher(provider, zap.NewNop(), WithRetryPolicy(fastPolicy()))
	require.NoError(t, d.Run(context.Background(), validRequest(1), sink))

	assert.Equal(t, int64(4), provider.calls.Load(), "initial attempt plus three retries")
	require.Len(t, sink.images, 1)
	assert.Equal(t, types.StatusError, sink.images[0].Status)
	assert.Contains(t, sink.images[0].Err, "CONTENT_FILTERED")
	assert.Empty(t, sink.images[0].Data)
	assert.Equal(t, []int{1}, sink.progress)
}

func TestRun_CancellationMidBatchProducesSilence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	provider := &stubProvider{fn: func(ctx context.Context, call int64) (*providers.Result, error) {
		if call <= 3 {
			return oneImage(), nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	sink := &recordingSink{}
	gate := SinkFuncs{
		Image: sink.OnImage,
		Progress: func(completed, total int) {
			sink.OnProgress(completed, total)
			if completed == 3 {
				cancel()
			}
		},
	}

	d := NewDispatcher(provider, zap.NewNop(),
		WithRetryPolicy(fastPolicy()),
		WithConcurrency(3),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx, validRequest(10), gate)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not resolve promptly after cancellation")
	}

	assert.Equal(t, []int{1, 2, 3}, sink.progress, "no progress after cancellation")
	assert.Len(t, sink.images, 3, "no error placeholders for abandoned slots")
	for _, img := range sink.images {
		assert.Equal(t, types.StatusSuccess, img.Status)
	}
}

func TestRun_TextOnlyResult(t *testing.T) {
	provider := &stubProvider{fn: func(ctx context.Context, call int64) (*providers.Result, error) {
		return &providers.Result{Text: "cannot draw that"}, nil
	}}
	sink := &recordingSink{}

	d := NewDispatcher(provider, zap.NewNop(), WithRetryPolicy(fastPolicy()))
	require.NoError(t, d.Run(context.Background(), validRequest(1), sink))

	assert.Empty(t, sink.images)
	assert.Equal(t, []string{"cannot draw that"}, sink.texts)
	assert.Equal(t, []int{1}, sink.progress)
}

func TestRun_MultipleImagesPerCall(t *testing.T) {
	provider := &stubProvider{fn: func(ctx context.Context, call int64) (*providers.Result, error) {
		return &providers.Result{Images: []providers.ImageData{
			{Data: []byte("a"), MimeType: "image/png"},
			{Data: []byte("b"), MimeType: "image/png"},
		}}, nil
	}}
	sink := &recordingSink{}

	d := NewDispatcher(provider, zap.NewNop(), WithRetryPolicy(fastPolicy()))
	require.NoError(t, d.Run(context.Background(), validRequest(1), sink))

	assert.Len(t, sink.images, 2, "each returned image surfaces independently")
	assert.Equal(t, []int{1}, sink.progress, "still one progress update for the slot")
}

func TestRun_ResultIDsAreUnique(t *testing.T) {
	provider := &stubProvider{fn: func(ctx context.Context, call int64) (*providers.Result, error) {
		return oneImage(), nil
	}}
	sink := &recordingSink{}

	d := NewDispatcher(provider, zap.NewNop(), WithRetryPolicy(fastPolicy()))
	require.NoError(t, d.Run(context.Background(), validRequest(8), sink))

	seen := make(map[string]bool)
	for _, img := range sink.images {
		require.NotEmpty(t, img.ID)
		assert.False(t, seen[img.ID], "duplicate result id %s", img.ID)
		seen[img.ID] = true
	}
}

func TestRun_PreflightFailures(t *testing.T) {
	provider := &stubProvider{fn: func(ctx context.Context, call int64) (*providers.Result, error) {
		return oneImage(), nil
	}}

	tests := []struct {
		name string
		req  *types.BatchRequest
	}{
		{
			name: "batch size out of range",
			req: &types.BatchRequest{
				Prompt:    "p",
				BatchSize: 21,
				Provider:  types.ProviderConfig{Kind: types.ProviderGemini, APIKey: "k"},
			},
		},
		{
			name: "no text and no images",
			req: &types.BatchRequest{
				BatchSize: 2,
				Provider:  types.ProviderConfig{Kind: types.ProviderGemini, APIKey: "k"},
			},
		},
		{
			name: "all images dropped",
			req: &types.BatchRequest{
				BatchSize:   2,
				FreshImages: []types.ImageInput{{MimeType: "image/png"}}, // empty payload
				Provider:    types.ProviderConfig{Kind: types.ProviderGemini, APIKey: "k"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			d := NewDispatcher(provider, zap.NewNop(), WithRetryPolicy(fastPolicy()))

			err := d.Run(context.Background(), tt.req, sink)
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
			assert.Empty(t, sink.progress, "no events before dispatch")
			assert.Empty(t, sink.images)
		})
	}
	assert.Equal(t, int64(0), provider.calls.Load(), "no upstream calls on pre-flight failure")
}

func TestRun_SiblingSlotsSurviveOneBadSlot(t *testing.T) {
	bad := errors.New("always fails")

	// One worker makes global call numbers map onto slots deterministically.
	seq := &stubProvider{fn: func(ctx context.Context, call int64) (*providers.Result, error) {
		// Slot claimed second: 4 failing attempts (calls 2..5).
		if call >= 2 && call <= 5 {
			return nil, bad
		}
		return oneImage(), nil
	}}
	sink := &recordingSink{}

	d := NewDispatcher(seq, zap.NewNop(), WithRetryPolicy(fastPolicy()), WithConcurrency(1))
	require.NoError(t, d.Run(context.Background(), validRequest(3), sink))

	require.Len(t, sink.images, 3)
	statuses := map[types.ResultStatus]int{}
	for _, img := range sink.images {
		statuses[img.Status]++
	}
	assert.Equal(t, 2, statuses[types.StatusSuccess])
	assert.Equal(t, 1, statuses[types.StatusError])
	assert.Equal(t, []int{1, 2, 3}, sink.progress)
}

func TestRun_ConcurrentBatchesDoNotInteract(t *testing.T) {
	provider := &stubProvider{fn: func(ctx context.Context, call int64) (*providers.Result, error) {
		time.Sleep(time.Millisecond)
		return oneImage(), nil
	}}

	d := NewDispatcher(provider, zap.NewNop(), WithRetryPolicy(fastPolicy()))

	var wg sync.WaitGroup
	sinks := make([]*recordingSink, 4)
	for i := range sinks {
		sinks[i] = &recordingSink{}
		wg.Add(1)
		go func(s *recordingSink) {
			defer wg.Done()
			require.NoError(t, d.Run(context.Background(), validRequest(5), s))
		}(sinks[i])
	}
	wg.Wait()

	for _, s := range sinks {
		assert.Len(t, s.images, 5)
		assert.Equal(t, []int{1, 2, 3, 4, 5}, s.progress)
	}
}
