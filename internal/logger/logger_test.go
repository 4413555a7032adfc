package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNewWithWriterFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "warn")

	l.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}

	l.Warn().Int64("owner_id", 7).Msg("shown")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json line: %v", err)
	}
	if line["message"] != "shown" {
		t.Fatalf("unexpected message: %v", line["message"])
	}
	if line["owner_id"] != float64(7) {
		t.Fatalf("unexpected owner_id: %v", line["owner_id"])
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "info").With().Str("request_id", "abc").Logger()
	ctx := WithContext(context.Background(), l)

	got := FromContext(ctx, zerolog.Nop())
	got.Info().Msg("hello")
	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"abc"`)) {
		t.Fatalf("expected request logger, got %q", buf.String())
	}

	buf.Reset()
	fallback := FromContext(context.Background(), zerolog.Nop())
	fallback.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected fallback logger to be used")
	}
}
