package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutboxDLQErrorReason(t *testing.T) {
	for _, reason := range validOutboxDLQErrorReasons {
		got, err := ParseOutboxDLQErrorReason(string(reason))
		require.NoError(t, err)
		assert.Equal(t, reason, got)
		assert.True(t, got.IsValid())
	}

	_, err := ParseOutboxDLQErrorReason("timeout")
	require.Error(t, err)
	assert.False(t, OutboxDLQErrorReason("").IsValid())
}

func TestOutboxDLQErrorReasonReplayable(t *testing.T) {
	assert.True(t, OutboxDLQReasonMaxAttempts.Replayable())
	assert.False(t, OutboxDLQReasonNonRetryable.Replayable())
	assert.False(t, OutboxDLQReasonUnregisteredEvent.Replayable())
}
