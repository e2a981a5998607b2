package server

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFuncService(t *testing.T) {
	var started, stopped bool
	svc := &FuncService{
		StartFn: func() error { started = true; return nil },
		StopFn:  func() { stopped = true },
	}
	require.NoError(t, svc.Start())
	svc.Stop()
	assert.True(t, started)
	assert.True(t, stopped)
}

func TestPeriodic_RunsOnInterval(t *testing.T) {
	var ticks atomic.Int32
	p := NewPeriodic(10*time.Millisecond, func(time.Time) {
		ticks.Add(1)
	})

	done := make(chan error, 1)
	go func() { done <- p.Start() }()

	deadline := time.Now().Add(5 * time.Second)
	for ticks.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("periodic never ticked")
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
	require.NoError(t, <-done)
}

func TestPeriodic_StopIdempotent(t *testing.T) {
	p := NewPeriodic(time.Hour, func(time.Time) {})
	go p.Start()
	time.Sleep(10 * time.Millisecond)
	p.Stop()
	p.Stop()
}

func TestLifecycle_StopsInReverseOrder(t *testing.T) {
	var order []string
	mk := func(name string) Service {
		block := make(chan struct{})
		return &FuncService{
			StartFn: func() error { <-block; return nil },
			StopFn: func() {
				order = append(order, name)
				close(block)
			},
		}
	}

	l := NewLifecycle(zap.NewNop())
	l.Add("first", mk("first"))
	l.Add("second", mk("second"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"second", "first"}, order)
}
