// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Thermoquad/shuckctl/pkg/collector"
)

func stubPasswordPrompt(t *testing.T, fn func() (string, error)) {
	t.Helper()
	prev := passwordPrompt
	passwordPrompt = fn
	t.Cleanup(func() {
		passwordPrompt = prev
		passwordCache.Lock()
		passwordCache.value, passwordCache.ok = "", false
		passwordCache.Unlock()
	})
}

func TestGetPassword_PromptsOnce(t *testing.T) {
	t.Setenv(PasswordEnv, "")
	prompts := 0
	stubPasswordPrompt(t, func() (string, error) {
		prompts++
		return "hunter2", nil
	})

	for range 3 {
		pw, err := GetPassword()
		require.NoError(t, err)
		assert.Equal(t, "hunter2", pw)
	}
	assert.Equal(t, 1, prompts)
}

func TestGetPassword_EnvWins(t *testing.T) {
	t.Setenv(PasswordEnv, "from-env")
	stubPasswordPrompt(t, func() (string, error) {
		t.Fatal("prompted with the password in the environment")
		return "", nil
	})

	pw, err := GetPassword()
	require.NoError(t, err)
	assert.Equal(t, "from-env", pw)
}

func TestGetPassword_FailedPromptNotCached(t *testing.T) {
	t.Setenv(PasswordEnv, "")
	fail := true
	stubPasswordPrompt(t, func() (string, error) {
		if fail {
			return "", errors.New("no terminal")
		}
		return "second", nil
	})

	_, err := GetPassword()
	require.Error(t, err)

	fail = false
	pw, err := GetPassword()
	require.NoError(t, err)
	assert.Equal(t, "second", pw)
}

func TestDrainQueue_FinishesDeliveries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var sawCancel bool
	q := collector.NewQueue(collector.DelivererFunc(func(ctx context.Context, _ collector.Request, done func(error)) {
		go func() {
			time.Sleep(5 * time.Millisecond)
			sawCancel = sawCancel || ctx.Err() != nil
			done(nil)
		}()
	}), collector.WithContext(context.WithoutCancel(ctx)))

	require.NoError(t, q.Enqueue(collector.NewRequest("POST", "http://collector/in", map[string]any{"n": 1})))
	require.NoError(t, q.Enqueue(collector.NewRequest("POST", "http://collector/in", map[string]any{"n": 2})))
	cancel()

	drainQueue(q, time.Second, zap.NewNop())
	assert.Equal(t, uint64(2), q.Delivered())
	assert.False(t, sawCancel)
	assert.ErrorIs(t, q.Enqueue(collector.NewRequest("POST", "http://collector/in", nil)), collector.ErrQueueClosed)
}

func TestDrainQueue_GivesUpAfterTimeout(t *testing.T) {
	q := collector.NewQueue(collector.DelivererFunc(func(context.Context, collector.Request, func(error)) {}))
	require.NoError(t, q.Enqueue(collector.NewRequest("POST", "http://collector/in", nil)))
	require.NoError(t, q.Enqueue(collector.NewRequest("POST", "http://collector/in", nil)))

	drainQueue(q, 10*time.Millisecond, zap.NewNop())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, uint64(0), q.Delivered())
}
