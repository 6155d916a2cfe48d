package cli

import (
	"strings"
	"testing"
)

func TestReadLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain line", "secret\n", "secret"},
		{"windows line ending", "secret\r\n", "secret"},
		{"surrounding whitespace", "  app password \n", "app password"},
		{"no trailing newline", "secret", "secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readLine(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("readLine() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("readLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadLine_EmptyInput(t *testing.T) {
	if _, err := readLine(strings.NewReader("")); err == nil {
		t.Error("expected error for empty input")
	}
}
