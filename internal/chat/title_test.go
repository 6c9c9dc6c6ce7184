package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		max     int
		want    string
	}{
		{"short text kept whole", "Hello", 30, "Hello"},
		{"exact length", "abcde", 5, "abcde"},
		{"truncated with ellipsis", "I have had a headache since yesterday morning", 30, "I have had a headache since ye..."},
		{"trailing space trimmed before ellipsis", "How much water should I drink every day?", 30, "How much water should I drink..."},
		{"whitespace collapsed", "  sore\n\nknees  ", 30, "sore knees"},
		{"counts runes not bytes", "ñññññññññ", 3, "ñññ..."},
		{"non-positive limit", "anything goes", 0, "anything goes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.content, tt.max))
		})
	}
}
