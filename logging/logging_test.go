// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewTagsComponent(t *testing.T) {
	t.Setenv("LTI_LOG_LEVEL", "")
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	Configure(Config{Level: "info", Format: "json"})

	log := New("oracle")
	log.Info().Uint64("block", 7).Msg("refreshed")
	log.Debug().Msg("hidden")

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if entry["component"] != "oracle" {
		t.Errorf("component = %v, want oracle", entry["component"])
	}
	if entry["block"] != float64(7) {
		t.Errorf("block = %v, want 7", entry["block"])
	}
}
