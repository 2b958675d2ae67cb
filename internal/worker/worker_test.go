package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/importer"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/worker/mocks"
)

func testConfig() Config {
	return Config{
		Concurrency:   2,
		PollInterval:  5 * time.Millisecond,
		SweepInterval: time.Hour,
		SweepLimit:    25,
	}
}

func TestRunOnce_Idle(t *testing.T) {
	svc := mocks.NewMockImporter(t)
	svc.On("ClaimNextRun", mock.Anything).Return(nil, nil).Once()

	worked, err := NewPool(svc, testConfig()).RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
	svc.AssertNotCalled(t, "ProcessRun", mock.Anything, mock.Anything)
}

func TestRunOnce_ProcessesClaimedRun(t *testing.T) {
	svc := mocks.NewMockImporter(t)
	run := &model.ImportRun{ID: "run-1", Status: model.RunStatusProcessing, ProcessingAttempts: 1}
	svc.On("ClaimNextRun", mock.Anything).Return(run, nil).Once()
	svc.On("ProcessRun", mock.Anything, run).Return(nil).Once()

	worked, err := NewPool(svc, testConfig()).RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
}

func TestRunOnce_Errors(t *testing.T) {
	t.Run("claim", func(t *testing.T) {
		svc := mocks.NewMockImporter(t)
		svc.On("ClaimNextRun", mock.Anything).Return(nil, errors.New("db down")).Once()

		worked, err := NewPool(svc, testConfig()).RunOnce(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db down")
		assert.False(t, worked)
	})

	t.Run("process", func(t *testing.T) {
		svc := mocks.NewMockImporter(t)
		run := &model.ImportRun{ID: "run-2"}
		svc.On("ClaimNextRun", mock.Anything).Return(run, nil).Once()
		svc.On("ProcessRun", mock.Anything, run).Return(errors.New("commit failed")).Once()

		worked, err := NewPool(svc, testConfig()).RunOnce(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run-2")
		assert.True(t, worked)
	})
}

func TestDrain(t *testing.T) {
	svc := mocks.NewMockImporter(t)
	a := &model.ImportRun{ID: "a"}
	b := &model.ImportRun{ID: "b"}
	svc.On("ClaimNextRun", mock.Anything).Return(a, nil).Once()
	svc.On("ClaimNextRun", mock.Anything).Return(b, nil).Once()
	svc.On("ClaimNextRun", mock.Anything).Return(nil, nil).Once()
	svc.On("ProcessRun", mock.Anything, mock.Anything).Return(nil).Twice()

	n, err := NewPool(svc, testConfig()).Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPoolRun_StopsOnCancel(t *testing.T) {
	svc := mocks.NewMockImporter(t)
	polled := make(chan struct{}, 16)
	svc.On("ClaimNextRun", mock.Anything).
		Run(func(mock.Arguments) {
			select {
			case polled <- struct{}{}:
			default:
			}
		}).
		Return(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewPool(svc, testConfig()).Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-polled:
		case <-time.After(2 * time.Second):
			t.Fatal("pool never polled")
		}
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestSweep(t *testing.T) {
	svc := mocks.NewMockImporter(t)
	svc.On("RequeueStaleRuns", mock.Anything, 25).Return(2, nil).Once()
	svc.On("FailExhaustedRuns", mock.Anything, 25).Return(1, nil).Once()
	svc.On("PurgeExpiredArtifacts", mock.Anything, 25).Return(importer.PurgeResult{Purged: 3, Skipped: 1}, nil).Once()

	res, err := NewSweeper(svc, testConfig()).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Requeued: 2, Failed: 1, Purge: importer.PurgeResult{Purged: 3, Skipped: 1}}, res)
}

func TestSweep_ContinuesAfterError(t *testing.T) {
	svc := mocks.NewMockImporter(t)
	svc.On("RequeueStaleRuns", mock.Anything, 25).Return(0, errors.New("lock timeout")).Once()
	svc.On("FailExhaustedRuns", mock.Anything, 25).Return(1, nil).Once()
	svc.On("PurgeExpiredArtifacts", mock.Anything, 25).Return(importer.PurgeResult{}, errors.New("list failed")).Once()

	res, err := NewSweeper(svc, testConfig()).Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock timeout")
	assert.Contains(t, err.Error(), "list failed")
	assert.Equal(t, 1, res.Failed)
}

func TestSweeperRun_SweepsImmediately(t *testing.T) {
	svc := mocks.NewMockImporter(t)
	swept := make(chan struct{}, 1)
	svc.On("RequeueStaleRuns", mock.Anything, 25).Return(0, nil).Once()
	svc.On("FailExhaustedRuns", mock.Anything, 25).Return(0, nil).Once()
	svc.On("PurgeExpiredArtifacts", mock.Anything, 25).
		Run(func(mock.Arguments) { swept <- struct{}{} }).
		Return(importer.PurgeResult{}, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(svc, testConfig()).Run(ctx)
		close(done)
	}()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not run")
	}
	cancel()
	<-done
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 100, cfg.SweepLimit)
}
