package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidStatus(t *testing.T) {
	assert.True(t, ValidStatus(StatusActive))
	assert.True(t, ValidStatus(StatusInactive))
	assert.True(t, ValidStatus(StatusArchived))
	assert.False(t, ValidStatus(""))
	assert.False(t, ValidStatus("active"))
	assert.False(t, ValidStatus("DELETED"))
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{StatusActive, StatusInactive, true},
		{StatusInactive, StatusActive, true},
		{StatusActive, StatusArchived, true},
		{StatusInactive, StatusArchived, true},
		{StatusArchived, StatusActive, false},
		{StatusArchived, StatusInactive, false},
		{StatusActive, StatusActive, false},
		{StatusActive, "DELETED", false},
		{"", StatusActive, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}
