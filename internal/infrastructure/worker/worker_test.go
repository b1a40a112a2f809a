package worker

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

	"github.com/garyjia/lotus/internal/application/service"
)

type fakeWorker struct {
	name     string
	startErr error
	stopErr  error
	log      *[]string
}

func (f *fakeWorker) Start(ctx context.Context) error {
	*f.log = append(*f.log, "start "+f.name)
	return f.startErr
}

func (f *fakeWorker) Stop() error {
	*f.log = append(*f.log, "stop "+f.name)
	return f.stopErr
}

func (f *fakeWorker) Name() string { return f.name }

func TestManager_StartStopOrder(t *testing.T) {
	var log []string
	m := NewManager(zap.NewNop())
	m.Register(&fakeWorker{name: "a", log: &log})
	m.Register(&fakeWorker{name: "b", log: &log})

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.Running())
	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.False(t, m.Running())
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)

	// Stopping twice is harmless
	assert.NoError(t, m.StopAll())
}

func TestManager_StartFailureStopsStarted(t *testing.T) {
	var log []string
	m := NewManager(zap.NewNop())
	m.Register(&fakeWorker{name: "a", log: &log})
	m.Register(&fakeWorker{name: "b", log: &log, startErr: errors.New("boom")})
	m.Register(&fakeWorker{name: "c", log: &log})

	err := m.StartAll(context.Background())
	require.ErrorContains(t, err, "boom")
	assert.False(t, m.Running())
	assert.Equal(t, []string{"start a", "start b", "stop a"}, log)
}

func TestManager_StopErrorsJoined(t *testing.T) {
	var log []string
	m := NewManager(zap.NewNop())
	m.Register(&fakeWorker{name: "a", log: &log, stopErr: errors.New("stuck")})

	require.NoError(t, m.StartAll(context.Background()))
	assert.ErrorContains(t, m.StopAll(), "stuck")
}

type fakeReplayer struct {
	mu    sync.Mutex
	calls int32
	err   error
	ctxs  []context.Context
}

func (f *fakeReplayer) ReplayDeferred(ctx context.Context) (*service.ReplayReport, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.ctxs = append(f.ctxs, ctx)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &service.ReplayReport{Attempted: 1}, nil
}

func TestReplayWorker_RunOnce(t *testing.T) {
	r := &fakeReplayer{}
	w := NewReplayWorker(ReplayWorkerConfig{Timeout: time.Minute}, r, zap.NewNop())

	w.RunOnce(context.Background())
	assert.EqualValues(t, 1, atomic.LoadInt32(&r.calls))

	_, hasDeadline := r.ctxs[0].Deadline()
	assert.True(t, hasDeadline)

	// Errors are logged, not propagated
	r.err = errors.New("db down")
	w.RunOnce(context.Background())
	assert.EqualValues(t, 2, atomic.LoadInt32(&r.calls))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.RunOnce(ctx)
	assert.EqualValues(t, 2, atomic.LoadInt32(&r.calls))
}

func TestReplayWorker_Lifecycle(t *testing.T) {
	r := &fakeReplayer{}
	w := NewReplayWorker(ReplayWorkerConfig{Schedule: "@every 1h"}, r, zap.NewNop())
	assert.Equal(t, "deferred-replay", w.Name())

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestReplayWorker_InvalidSchedule(t *testing.T) {
	w := NewReplayWorker(ReplayWorkerConfig{Schedule: "every now and then"}, &fakeReplayer{}, zap.NewNop())
	assert.Error(t, w.Start(context.Background()))
}

func TestDefaultReplayWorkerConfig(t *testing.T) {
	cfg := DefaultReplayWorkerConfig()
	assert.Equal(t, DefaultReplaySchedule, cfg.Schedule)
	assert.Equal(t, 10*time.Minute, cfg.Timeout)
}
