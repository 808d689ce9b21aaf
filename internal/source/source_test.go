package source_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldscope-io/fieldscope/internal/rtlog"
	"github.com/fieldscope-io/fieldscope/internal/source"
	"github.com/fieldscope-io/fieldscope/internal/telemetry"
	"github.com/fieldscope-io/fieldscope/internal/worker"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

// fakeDispatcher is a controllable Dispatcher: it can reject
// synchronously, gate result delivery, or resolve with a canned result.
type fakeDispatcher struct {
	rejectWith error
	resultErr  error
	log        *telemetry.Log
	gate       chan struct{}
	closeOnly  bool

	mu      sync.Mutex
	submits int
}

func (f *fakeDispatcher) Submit(_ context.Context, _ []byte) (<-chan worker.Result, error) {
	f.mu.Lock()
	f.submits++
	f.mu.Unlock()

	if f.rejectWith != nil {
		return nil, f.rejectWith
	}

	ch := make(chan worker.Result, 1)

	go func() {
		if f.gate != nil {
			<-f.gate
		}

		if f.closeOnly {
			close(ch)

			return
		}

		ch <- worker.Result{Log: f.log, Err: f.resultErr}
		close(ch)
	}()

	return ch, nil
}

func (f *fakeDispatcher) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.submits
}

// sampleLog builds a small decoded log for fake deliveries.
func sampleLog(t *testing.T) *telemetry.Log {
	t.Helper()

	log := telemetry.NewLog()

	voltage, err := log.DefineField("/battery/voltage", telemetry.KindNumber)
	require.NoError(t, err)
	require.NoError(t, voltage.Append(0.0, 12.6))

	return log
}

func waitStatus(t *testing.T, s *source.Source, want source.Status) {
	t.Helper()

	require.Eventually(t, func() bool {
		return s.Status() == want
	}, waitFor, tick, "status never reached %s (now %s)", want, s.Status())
}

func TestStatus_String(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status source.Status
		want   string
	}{
		{source.StatusIdle, "idle"},
		{source.StatusReading, "reading"},
		{source.StatusDecoding, "decoding"},
		{source.StatusReady, "ready"},
		{source.StatusError, "error"},
		{source.StatusStopped, "stopped"},
		{source.Status(42), "unknown(42)"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.status.String())
	}
}

func TestStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, source.StatusIdle.Terminal())
	assert.False(t, source.StatusReading.Terminal())
	assert.False(t, source.StatusDecoding.Terminal())
	assert.True(t, source.StatusReady.Terminal())
	assert.True(t, source.StatusError.Terminal())
	assert.True(t, source.StatusStopped.Terminal())
}

func TestSource_ReadyInvokesCallbackOnce(t *testing.T) {
	t.Parallel()

	fake := &fakeDispatcher{log: sampleLog(t)}

	var calls atomic.Int32

	var got *telemetry.Log

	s := source.New(fake, func(log *telemetry.Log) {
		got = log
		calls.Add(1)
	})

	require.Equal(t, source.StatusIdle, s.Status())
	require.NoError(t, s.Submit(context.Background(), []byte("payload")))

	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, waitFor, tick, "callback never fired")

	waitStatus(t, s, source.StatusReady)

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel should be closed once ready")
	}

	assert.Equal(t, int32(1), calls.Load())
	require.NotNil(t, got)

	_, ok := got.Field("/battery/voltage")
	assert.True(t, ok)

	assert.NoError(t, s.Err())
}

func TestSource_EmptyBufferRejectedBeforeTransition(t *testing.T) {
	t.Parallel()

	fake := &fakeDispatcher{log: sampleLog(t)}
	s := source.New(fake, nil)

	err := s.Submit(context.Background(), nil)
	require.ErrorIs(t, err, source.ErrEmptyBuffer)

	assert.Equal(t, source.StatusIdle, s.Status())
	assert.Zero(t, fake.submitCount(), "nothing should reach the dispatcher")

	// The source stays usable afterwards.
	require.NoError(t, s.Submit(context.Background(), []byte("payload")))
	waitStatus(t, s, source.StatusReady)
}

func TestSource_SecondSubmitWhileDecodingRejected(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	fake := &fakeDispatcher{log: sampleLog(t), gate: gate}

	var calls atomic.Int32

	s := source.New(fake, func(*telemetry.Log) {
		calls.Add(1)
	})

	require.NoError(t, s.Submit(context.Background(), []byte("first")))
	require.Equal(t, source.StatusDecoding, s.Status())

	err := s.Submit(context.Background(), []byte("second"))
	require.ErrorIs(t, err, source.ErrDecodeInFlight)
	assert.Equal(t, 1, fake.submitCount())

	close(gate)
	waitStatus(t, s, source.StatusReady)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSource_SubmitAfterTerminalRejected(t *testing.T) {
	t.Parallel()

	t.Run("after ready", func(t *testing.T) {
		t.Parallel()

		fake := &fakeDispatcher{log: sampleLog(t)}
		s := source.New(fake, nil)

		require.NoError(t, s.Submit(context.Background(), []byte("payload")))
		waitStatus(t, s, source.StatusReady)

		err := s.Submit(context.Background(), []byte("again"))
		require.ErrorIs(t, err, source.ErrSourceFinished)
		assert.Equal(t, 1, fake.submitCount())
	})

	t.Run("after stop", func(t *testing.T) {
		t.Parallel()

		fake := &fakeDispatcher{log: sampleLog(t)}
		s := source.New(fake, nil)

		s.Stop()

		err := s.Submit(context.Background(), []byte("payload"))
		require.ErrorIs(t, err, source.ErrSourceFinished)
		assert.Zero(t, fake.submitCount())
	})
}

func TestSource_StopBeforeResolveSuppressesCallback(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	fake := &fakeDispatcher{log: sampleLog(t), gate: gate}

	var calls atomic.Int32

	s := source.New(fake, func(*telemetry.Log) {
		calls.Add(1)
	})

	require.NoError(t, s.Submit(context.Background(), []byte("payload")))

	s.Stop()
	require.Equal(t, source.StatusStopped, s.Status())

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel should be closed once stopped")
	}

	// Let the decode finish; the late result must be discarded.
	close(gate)

	require.Never(t, func() bool {
		return calls.Load() != 0
	}, 300*time.Millisecond, tick, "callback fired after stop")

	assert.Equal(t, source.StatusStopped, s.Status())
	assert.NoError(t, s.Err())
}

func TestSource_StopBeforeFailureKeepsStopped(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	fake := &fakeDispatcher{resultErr: rtlog.ErrFormat, gate: gate}

	s := source.New(fake, nil)

	require.NoError(t, s.Submit(context.Background(), []byte("payload")))

	s.Stop()
	close(gate)

	require.Never(t, func() bool {
		return s.Status() != source.StatusStopped
	}, 300*time.Millisecond, tick, "late failure overwrote stop")

	assert.NoError(t, s.Err(), "a discarded failure must not surface")
}

func TestSource_DecodeFailureSetsError(t *testing.T) {
	t.Parallel()

	fake := &fakeDispatcher{resultErr: rtlog.ErrTruncated}

	var calls atomic.Int32

	s := source.New(fake, func(*telemetry.Log) {
		calls.Add(1)
	})

	require.NoError(t, s.Submit(context.Background(), []byte("payload")))

	waitStatus(t, s, source.StatusError)
	require.ErrorIs(t, s.Err(), rtlog.ErrTruncated)
	assert.Zero(t, calls.Load())

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel should be closed once failed")
	}
}

func TestSource_DispatchRejectionFailsSource(t *testing.T) {
	t.Parallel()

	fake := &fakeDispatcher{rejectWith: worker.ErrQueueFull}
	s := source.New(fake, nil)

	err := s.Submit(context.Background(), []byte("payload"))
	require.ErrorIs(t, err, worker.ErrQueueFull)

	assert.Equal(t, source.StatusError, s.Status())
	assert.ErrorIs(t, s.Err(), worker.ErrQueueFull)
}

func TestSource_ResultChannelClosedWithoutResult(t *testing.T) {
	t.Parallel()

	fake := &fakeDispatcher{closeOnly: true}
	s := source.New(fake, nil)

	require.NoError(t, s.Submit(context.Background(), []byte("payload")))

	waitStatus(t, s, source.StatusError)
	assert.Error(t, s.Err())
}

func TestSource_StopIdempotent(t *testing.T) {
	t.Parallel()

	s := source.New(&fakeDispatcher{}, nil)

	s.Stop()
	s.Stop()

	assert.Equal(t, source.StatusStopped, s.Status())
}

func TestSource_StopAfterReadyIsNoOp(t *testing.T) {
	t.Parallel()

	fake := &fakeDispatcher{log: sampleLog(t)}
	s := source.New(fake, nil)

	require.NoError(t, s.Submit(context.Background(), []byte("payload")))
	waitStatus(t, s, source.StatusReady)

	s.Stop()

	assert.Equal(t, source.StatusReady, s.Status())
}

func TestSource_BeginReading(t *testing.T) {
	t.Parallel()

	fake := &fakeDispatcher{log: sampleLog(t)}
	s := source.New(fake, nil)

	require.NoError(t, s.BeginReading())
	require.Equal(t, source.StatusReading, s.Status())

	err := s.BeginReading()
	require.ErrorIs(t, err, source.ErrNotIdle)

	// Submission proceeds from Reading.
	require.NoError(t, s.Submit(context.Background(), []byte("payload")))
	waitStatus(t, s, source.StatusReady)
}

func TestSource_PoolRoundTrip(t *testing.T) {
	t.Parallel()

	pool := worker.NewPool(worker.Config{Workers: 2})
	defer pool.Close()

	log := telemetry.NewLog()

	enabled, err := log.DefineField("/robot/enabled", telemetry.KindBoolean)
	require.NoError(t, err)
	require.NoError(t, enabled.Append(0.0, true))
	require.NoError(t, enabled.Append(2.5, false))

	buf, err := rtlog.NewEncoder().EncodeLog(log)
	require.NoError(t, err)

	decoded := make(chan *telemetry.Log, 1)

	s := source.New(pool, func(log *telemetry.Log) {
		decoded <- log
	})

	require.NoError(t, s.Submit(context.Background(), buf))

	select {
	case got := <-decoded:
		field, ok := got.Field("/robot/enabled")
		require.True(t, ok)
		assert.Equal(t, 2, field.Len())
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for decoded log")
	}

	assert.Equal(t, source.StatusReady, s.Status())
}
