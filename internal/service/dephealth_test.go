package service

import "testing"

func TestHealthTarget(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantBase string
		wantPath string
	}{
		{"URL с путём", "https://api.stt.local/v1/speech-to-text", "https://api.stt.local", "/v1/speech-to-text"},
		{"URL без пути", "http://stt:8000", "http://stt:8000", "/"},
		{"не URL", "stt", "stt", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, path := healthTarget(tt.input)
			if base != tt.wantBase || path != tt.wantPath {
				t.Errorf("healthTarget(%q) = %q, %q; ожидается %q, %q",
					tt.input, base, path, tt.wantBase, tt.wantPath)
			}
		})
	}
}
