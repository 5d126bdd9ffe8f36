package oxia

import (
	"context"
	"strings"
	"testing"

	"github.com/consentframework/expiryd/internal/metadata"
)

// Note: tests that require an Oxia server are in integration_test.go.

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "empty service address",
			cfg:     Config{Namespace: "test"},
			wantErr: "service address is required",
		},
		{
			name:    "empty namespace",
			cfg:     Config{ServiceAddress: "localhost:6648"},
			wantErr: "namespace is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVersionConversion(t *testing.T) {
	for _, v := range []int64{0, 1, 41} {
		meta := oxiaToMetadataVersion(v)
		if meta != metadata.Version(v+1) {
			t.Errorf("oxiaToMetadataVersion(%d) = %d", v, meta)
		}
		if back := metadataToOxiaVersion(meta); back != v {
			t.Errorf("round trip of %d gave %d", v, back)
		}
	}
}

func TestScanRange(t *testing.T) {
	tests := []struct {
		name      string
		prefix    string
		afterKey  string
		wantStart string
		wantEnd   string
	}{
		{
			name:      "hierarchical prefix from start",
			prefix:    "/expiryd/v1/expiry-index/2011-12-03T10:00Z/",
			wantStart: "/expiryd/v1/expiry-index/2011-12-03T10:00Z/",
			wantEnd:   "/expiryd/v1/expiry-index/2011-12-03T10:00Z//",
		},
		{
			name:      "hierarchical prefix after key",
			prefix:    "/idx/h/",
			afterKey:  "/idx/h/2011-12-03T10:15:12Z|a",
			wantStart: "/idx/h/2011-12-03T10:15:12Z|a\x00",
			wantEnd:   "/idx/h//",
		},
		{
			name:      "plain prefix",
			prefix:    "/idx/h",
			wantStart: "/idx/h",
			wantEnd:   "/idx/i",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := scanRange(tt.prefix, tt.afterKey)
			if start != tt.wantStart {
				t.Errorf("start = %q, want %q", start, tt.wantStart)
			}
			if end != tt.wantEnd {
				t.Errorf("end = %q, want %q", end, tt.wantEnd)
			}
		})
	}
}
