package randx

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestConnectionIDIsUniqueUUID(t *testing.T) {
	a, b := ConnectionID(), ConnectionID()

	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestIsValidIdentity(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"alice", true},
		{"5b0c8a44-6c1e-4f0e-9a3e-1f2d3c4b5a69", true},
		{"user_42", true},
		{"", false},
		{"has space", false},
		{"tab\there", false},
		{"nul\x00", false},
		{"\xff\xfe", false},
		{strings.Repeat("a", MaxIdentityLength), true},
		{strings.Repeat("a", MaxIdentityLength+1), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidIdentity(tt.id), "id %q", tt.id)
	}
}
