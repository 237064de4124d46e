// Copyright 2025 James Ross
package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGrowPollDoublesUpToMax(t *testing.T) {
	assert.Equal(t, 20, growPoll(10, 2000))
	assert.Equal(t, 2000, growPoll(1500, 2000))
	assert.Equal(t, 10, growPoll(0, 2000))
}
