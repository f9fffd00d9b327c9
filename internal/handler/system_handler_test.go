package handler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fixedCounter int

func (c fixedCounter) Count() int { return int(c) }

func TestSystemHandler_Collect(t *testing.T) {
	h := NewSystemHandler(nil, fixedCounter(3), zerolog.Nop())

	snap := h.collect(context.Background())
	assert.Equal(t, 3, snap.LiveSessions)
	assert.Zero(t, snap.QueueProgress)
	assert.Positive(t, snap.Goroutines)
	assert.NotEmpty(t, snap.Uptime)
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "2m 5s", formatUptime(125*time.Second))
	assert.Equal(t, "1h 0m 1s", formatUptime(time.Hour+time.Second))
	assert.Equal(t, "1d 2h 0m 0s", formatUptime(26*time.Hour))
}

func TestReadProcKB_MissingKey(t *testing.T) {
	_, err := readProcKB("/proc/self/status", "NoSuchKey:")
	assert.Error(t, err)
}
