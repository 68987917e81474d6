package cliexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-counsel/counsel/pkg/errs"
)

func TestInvokeReturnsStdout(t *testing.T) {
	a := New(Config{
		Command:         "/bin/echo",
		ActivityTimeout: time.Second,
	})

	text, err := a.Invoke(context.Background(), "hello world", "test-model", "", false)
	require.NoError(t, err)
	assert.Contains(t, text, "hello world")
}

func TestInvokeTimesOutOnSilence(t *testing.T) {
	a := New(Config{
		Command:         "/bin/sleep",
		Args:            []string{},
		ActivityTimeout: 20 * time.Millisecond,
	})

	_, err := a.Invoke(context.Background(), "2", "test-model", "", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrAdapterTimeout)
}

func TestInvokeWithMetadataMarksEstimated(t *testing.T) {
	a := New(Config{Command: "/bin/echo", ActivityTimeout: time.Second})

	_, usage, err := a.InvokeWithMetadata(context.Background(), "some prompt text", "test-model", "", false)
	require.NoError(t, err)
	assert.Equal(t, "estimated", string(usage.Accuracy))
}
