package cmd

import (
	"testing"

	"github.com/mercure-chat/core/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestFindChannel(t *testing.T) {
	channels := []models.Channel{
		{ID: 10, Name: "general"},
		{ID: 11, Name: "Releases"},
		{ID: 12, Name: "10"},
	}

	tests := []struct {
		ref    string
		wantID int64
		found  bool
	}{
		{"general", 10, true},
		{"#general", 10, true},
		{" releases ", 11, true},
		{"11", 11, true},
		{"10", 10, true},
		{"#12", 12, true},
		{"random", 0, false},
		{"99", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			ch, ok := findChannel(channels, tt.ref)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.wantID, ch.ID)
		})
	}
}
