package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "Dune", "Dune"},
		{"keeps allowed punctuation", "The Name (of the Wind) - 2.5_final.mp3", "The Name (of the Wind) - 2.5_final.mp3"},
		{"strips path separators", "a/b\\c", "abc"},
		{"strips colon and question mark", "Dune: Messiah?", "Dune Messiah"},
		{"strips unicode punctuation", "Wiedźmin", "Wiedmin"},
		{"trims whitespace", "  Dune  ", "Dune"},
		{"strips traversal", "../../etc/passwd", "....etcpasswd"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizePath(tt.input))
		})
	}
}

func TestNormalizeVolumeNumber(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"1", "1"},
		{"01", "1"},
		{"007", "7"},
		{"1,2", "1-2"},
		{"1-2", "1-2"},
		{"01-02", "1-2"},
		{"01, 02", "1-2"},
		{"0", "0"},
		{"", ""},
		{"  3  ", "3"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeVolumeNumber(tt.input))
		})
	}
}
