package docker

import (
	"strings"
	"testing"
)

func TestReadPullStream(t *testing.T) {
	tests := []struct {
		name    string
		stream  string
		wantErr string
	}{
		{"complete", `{"status":"Pulling from ollama/ollama"}` + "\n" + `{"status":"Download complete"}` + "\n", ""},
		{"empty", "", ""},
		{"error message", `{"status":"Pulling"}` + "\n" + `{"error":"manifest unknown"}` + "\n", "manifest unknown"},
		{"garbage", "<html>", "reading pull progress"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := readPullStream(strings.NewReader(tt.stream))
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
