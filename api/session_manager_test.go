package api

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brushcast/brushcast/internal/config"
	"github.com/brushcast/brushcast/wire"
)

// fakePipeline echoes the input image back, recording every call. An
// optional err makes every call fail.
type fakePipeline struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration
	seen  [][]byte
}

func (p *fakePipeline) Generate(ctx context.Context, params wire.GenerationParams, image []byte) ([]byte, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	p.calls++
	p.seen = append(p.seen, image)
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return image, nil
}

func (p *fakePipeline) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakePipeline) images() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.seen))
	copy(out, p.seen)
	return out
}

func testSessionConfig() config.SessionConfig {
	cfg := config.Default().Session
	cfg.Similarity.Enabled = false
	return cfg
}

func newTestManager(t *testing.T, cfg config.SessionConfig, pipe *fakePipeline) *SessionManager {
	t.Helper()
	ws := config.Default().WebSocket
	metrics := NewMetrics(prometheus.NewRegistry())
	m := NewSessionManager(cfg, ws, pipe, metrics)
	t.Cleanup(m.CloseAll)
	return m
}

func TestSessionManagerCreateMintsDistinctIDs(t *testing.T) {
	m := newTestManager(t, testSessionConfig(), &fakePipeline{})

	a, err := m.Create(ModeRealtime, "")
	require.NoError(t, err)
	b, err := m.Create(ModeRealtime, "")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	_, err = uuid.Parse(a.ID)
	assert.NoError(t, err)
	_, err = uuid.Parse(b.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, m.Count(""))
}

func TestSessionManagerCreateIsIdempotentForKnownID(t *testing.T) {
	m := newTestManager(t, testSessionConfig(), &fakePipeline{})

	id := uuid.New().String()
	a, err := m.Create(ModeCanvas, id)
	require.NoError(t, err)
	b, err := m.Create(ModeCanvas, id)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, m.Count(ModeCanvas))
}

func TestSessionManagerServerFull(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MaxSessions = 1
	m := newTestManager(t, cfg, &fakePipeline{})

	_, err := m.Create(ModeRealtime, "")
	require.NoError(t, err)

	_, err = m.Create(ModeRealtime, "")
	assert.ErrorIs(t, err, ErrServerFull)
}

func TestSessionManagerModeSelectsDrainPolicy(t *testing.T) {
	m := newTestManager(t, testSessionConfig(), &fakePipeline{})

	rt, err := m.Create(ModeRealtime, "")
	require.NoError(t, err)
	cv, err := m.Create(ModeCanvas, "")
	require.NoError(t, err)

	assert.Equal(t, DrainLatest, rt.Queue().Policy())
	assert.Equal(t, DrainAll, cv.Queue().Policy())
}

func TestSessionManagerSessionsAreIsolated(t *testing.T) {
	pipe := &fakePipeline{}
	m := newTestManager(t, testSessionConfig(), pipe)

	a, err := m.Create(ModeCanvas, "")
	require.NoError(t, err)
	b, err := m.Create(ModeCanvas, "")
	require.NoError(t, err)

	require.NoError(t, a.Queue().Enqueue(frameWithImage(1)))
	require.NoError(t, a.Queue().Enqueue(frameWithImage(2)))

	// Session B never sees A's frames.
	assert.Equal(t, 0, b.Queue().Len())

	select {
	case img := <-a.Results():
		assert.Equal(t, []byte{1}, img)
	case <-time.After(time.Second):
		t.Fatal("session A produced no result")
	}

	select {
	case <-b.Results():
		t.Fatal("session B received a result for session A's frame")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionManagerDeleteCancelsConsumer(t *testing.T) {
	m := newTestManager(t, testSessionConfig(), &fakePipeline{})

	s, err := m.Create(ModeRealtime, "")
	require.NoError(t, err)

	require.NoError(t, m.Delete(s.ID))

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("delete did not close the session")
	}
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Queue().Enqueue(frameWithImage(1)), ErrQueueClosed)

	_, ok := m.Get(s.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, m.Delete(s.ID), ErrSessionNotFound)
}

func TestSessionManagerConsecutivePipelineFailuresCloseSession(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MaxConsecutiveFailures = 2
	pipe := &fakePipeline{err: errors.New("backend down")}
	m := newTestManager(t, cfg, pipe)

	s, err := m.Create(ModeCanvas, "")
	require.NoError(t, err)

	require.NoError(t, s.Queue().Enqueue(frameWithImage(1)))
	require.NoError(t, s.Queue().Enqueue(frameWithImage(2)))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close after repeated pipeline failures")
	}

	assert.Eventually(t, func() bool {
		_, ok := m.Get(s.ID)
		return !ok
	}, time.Second, 10*time.Millisecond, "failed session still registered")
}

func TestSessionManagerReapsIdleSessions(t *testing.T) {
	cfg := testSessionConfig()
	cfg.IdleTimeout = 30 * time.Millisecond
	m := newTestManager(t, cfg, &fakePipeline{})

	s, err := m.Create(ModeRealtime, "")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	m.reapIdle()

	_, ok := m.Get(s.ID)
	assert.False(t, ok)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("reaped session did not close")
	}
}

func TestSessionManagerReaperSparesActiveSessions(t *testing.T) {
	cfg := testSessionConfig()
	cfg.IdleTimeout = time.Hour
	m := newTestManager(t, cfg, &fakePipeline{})

	s, err := m.Create(ModeRealtime, "")
	require.NoError(t, err)

	m.reapIdle()

	_, ok := m.Get(s.ID)
	assert.True(t, ok)
	assert.NotEqual(t, StateClosed, s.State())
}

func TestSessionRealtimeSkipsNearDuplicateFrames(t *testing.T) {
	cfg := testSessionConfig()
	cfg.Similarity.Enabled = true
	cfg.Similarity.Threshold = 0.98
	cfg.Similarity.MaxSkipFrames = 10
	pipe := &fakePipeline{}
	m := newTestManager(t, cfg, pipe)

	s, err := m.Create(ModeRealtime, "")
	require.NoError(t, err)

	img := make([]byte, 256)
	for i := range img {
		img[i] = 100
	}

	require.NoError(t, s.Queue().Enqueue(&Frame{Image: img, ReceivedAt: time.Now()}))
	select {
	case <-s.Results():
	case <-time.After(time.Second):
		t.Fatal("first frame was not processed")
	}

	// A duplicate of the reference frame is filtered, never reaching the
	// pipeline.
	dup := make([]byte, 256)
	copy(dup, img)
	require.NoError(t, s.Queue().Enqueue(&Frame{Image: dup, ReceivedAt: time.Now()}))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, pipe.callCount())
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	m := newTestManager(t, testSessionConfig(), &fakePipeline{})

	s, err := m.Create(ModeRealtime, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var closes atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close("test")
			closes.Add(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(4), closes.Load())
	assert.Equal(t, StateClosed, s.State())
}
