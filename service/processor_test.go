package service

import (
	"context"
	"errors"
	"testing"

	"AdForge-server/models"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// FinishAttempt 是重试感知契约的落点，直接按 (attempt, budget) 单测，
// 不需要起 asynq server

func TestFinishAttemptSuccess(t *testing.T) {
	store := models.NewMemoryStore()
	seedProject(t, store, models.ProjectStatusGeneratingImage, models.Settings{})
	p := &Processor{Store: store}

	require.NoError(t, p.FinishAttempt(context.Background(), "p1", 1, 3, nil))
}

func TestFinishAttemptRetryableNotFinal(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	seedProject(t, store, models.ProjectStatusQueued, models.Settings{})
	p := &Processor{Store: store}
	runErr := failingProvider("scene", "upstream 503")

	for _, attempt := range []int{1, 2} {
		err := p.FinishAttempt(ctx, "p1", attempt, 3, runErr)
		require.Error(t, err)
		assert.False(t, errors.Is(err, asynq.SkipRetry), "attempt %d must be redelivered", attempt)

		// 状态不动，下次尝试干净重入
		got, _ := store.GetProject(ctx, "p1")
		assert.Equal(t, models.ProjectStatusQueued, got.Status)
		assert.Empty(t, got.Settings.LastError)
	}
}

func TestFinishAttemptRetryableFinalMarksFailed(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	seedProject(t, store, models.ProjectStatusQueued, models.Settings{})
	p := &Processor{Store: store}

	err := p.FinishAttempt(ctx, "p1", 3, 3, failingProvider("scene", "upstream 503"))
	require.Error(t, err)

	got, _ := store.GetProject(ctx, "p1")
	assert.Equal(t, models.ProjectStatusFailed, got.Status)
	assert.Contains(t, got.Settings.LastError, "upstream 503")
	require.NotNil(t, got.Settings.FailedAt)
}

func TestFinishAttemptNonRetryableFailsImmediately(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	seedProject(t, store, models.ProjectStatusGeneratingImage, models.Settings{})
	p := &Processor{Store: store}
	runErr := &models.ValidationError{Msg: "mainImage is required"}

	err := p.FinishAttempt(ctx, "p1", 1, 3, runErr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "validation errors must not be redelivered")

	got, _ := store.GetProject(ctx, "p1")
	assert.Equal(t, models.ProjectStatusFailed, got.Status)
	assert.Contains(t, got.Settings.LastError, "mainImage")
}

// 项目已是终态时不允许被迟到的失败覆盖
func TestFinishAttemptDoesNotOverwriteCompleted(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	seedProject(t, store, models.ProjectStatusCompleted, models.Settings{})
	p := &Processor{Store: store}

	err := p.FinishAttempt(ctx, "p1", 3, 3, failingProvider("compose", "late failure"))
	require.Error(t, err)

	got, _ := store.GetProject(ctx, "p1")
	assert.Equal(t, models.ProjectStatusCompleted, got.Status)
	assert.Empty(t, got.Settings.LastError)
}
