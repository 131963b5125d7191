package groutine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NameIsVisibleInContext(t *testing.T) {
	got := make(chan string, 1)
	Go(nil, "worker-42", func(ctx context.Context) {
		got <- GetName(ctx)
	})

	select {
	case name := <-got:
		assert.Equal(t, "worker-42", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestStart_ReportsResult(t *testing.T) {
	boom := errors.New("boom")
	task := Start(context.Background(), "failing", func(ctx context.Context) error {
		return boom
	})

	<-task.Done()
	assert.ErrorIs(t, task.Err(), boom)
	assert.Equal(t, "failing", task.Name())
}

func TestStart_RecoversPanic(t *testing.T) {
	task := Start(context.Background(), "panicky", func(ctx context.Context) error {
		panic("kaboom")
	})

	<-task.Done()
	require.Error(t, task.Err())
	assert.Contains(t, task.Err().Error(), "kaboom")
	assert.ErrorIs(t, task.Err(), ErrPanic)
}

func TestTask_ErrBeforeDone(t *testing.T) {
	release := make(chan struct{})
	task := Start(context.Background(), "blocked", func(ctx context.Context) error {
		<-release
		return errors.New("late")
	})

	assert.NoError(t, task.Err())
	close(release)
	<-task.Done()
	assert.Error(t, task.Err())
}

func TestGetName_Empty(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	//nolint:staticcheck // nil context is part of the contract
	assert.Equal(t, "", GetName(nil))
}
