package utils

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRoomID(t *testing.T) {
	re := regexp.MustCompile(`^[0-9a-z]{7}$`)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := GenerateRoomID()
		assert.Regexp(t, re, id)
		seen[id] = true
	}
	// 36^7 possibilities; 200 draws colliding would point at a broken generator
	assert.Greater(t, len(seen), 195)
}

func TestInstantClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewInstantClock(start)

	fired := <-c.After(time.Second)
	assert.Equal(t, start.Add(time.Second), fired)
	<-c.After(time.Second)

	c.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute+2*time.Second), c.Now())
	assert.Equal(t, 2, c.Waits())
}
