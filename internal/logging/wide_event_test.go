package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestEmitIncludesEnrichedFields(t *testing.T) {
	buf := captureDefault(t)

	event := NewWideEvent("http_request")
	ctx := WithContext(context.Background(), event)
	EnrichHTTP(ctx, "POST", "/api/tiktok/transcript", "203.0.113.9")
	EnrichDevice(ctx, "6f1c2d3e-4b5a-4c6d-8e7f-9a0b1c2d3e4f", "extension")
	EnrichPlatform(ctx, "tiktok")
	EnrichEntitlement(ctx, "anonymous", true, 0)
	EnrichHTTPStatus(ctx, 200)
	Emit(ctx)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("bad log line %q: %v", buf.String(), err)
	}
	if line["level"] != "INFO" || line["msg"] != "wide_event" {
		t.Errorf("line = %v", line)
	}
	if line["trace_id"] != GetTraceID(ctx) || line["platform"] != "tiktok" {
		t.Errorf("line = %v", line)
	}
	if line["remaining"] != float64(0) || line["committed"] != true {
		t.Errorf("entitlement fields = %v, %v", line["remaining"], line["committed"])
	}
}

func TestEmitErrorLevel(t *testing.T) {
	buf := captureDefault(t)

	ctx := WithContext(context.Background(), NewWideEvent("http_request"))
	EnrichError(ctx, errors.New("upstream: status 500"), "provider")
	Emit(ctx)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("bad log line: %v", err)
	}
	if line["level"] != "ERROR" || line["error_stage"] != "provider" {
		t.Errorf("line = %v", line)
	}
}

func TestEnrichWithoutEventIsNoop(t *testing.T) {
	ctx := context.Background()
	EnrichIdentity(ctx, "id", "a@b.c")
	Emit(ctx)
	if GetTraceID(ctx) != "" {
		t.Error("trace id on bare context")
	}
}
