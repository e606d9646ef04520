package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"gateway suffix", "5511999999999@c.us", "+5511999999999"},
		{"group suffix", "5511999999999@g.us", "+5511999999999"},
		{"already canonical", "+5511999999999", "+5511999999999"},
		{"bare digits", "5511999999999", "+5511999999999"},
		{"formatted", "+55 (11) 99999-9999", "+5511999999999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAddress(tt.input))
		})
	}
}

func TestNormalizeAddress_Idempotent(t *testing.T) {
	inputs := []string{"5511999999999@c.us", "+5511999999999", "5511999999999"}
	for _, in := range inputs {
		once := NormalizeAddress(in)
		assert.Equal(t, once, NormalizeAddress(once))
	}
}
