package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey string

const (
	contextKeyWideEvent contextKey = "wide_event"
	contextKeyTraceID   contextKey = "trace_id"
)

// WideEvent represents a single structured log entry that captures the full lifecycle of a request.
// It is incrementally populated as the request flows through handlers, the gate and the provider client.
type WideEvent struct {
	mu sync.Mutex

	// Core identifiers
	TraceID   string    `json:"trace_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`

	// Request metadata
	HTTPMethod     string `json:"http_method,omitempty"`
	HTTPPath       string `json:"http_path,omitempty"`
	HTTPStatusCode int    `json:"http_status_code,omitempty"`
	HTTPDurationMs int64  `json:"http_duration_ms,omitempty"`
	ClientIP       string `json:"client_ip,omitempty"`

	// Caller context
	IdentityID    string `json:"identity_id,omitempty"`
	IdentityEmail string `json:"identity_email,omitempty"`
	DeviceID      string `json:"device_id,omitempty"`
	Source        string `json:"source,omitempty"`

	// Entitlement context
	EntitlementMode string `json:"entitlement_mode,omitempty"`
	Committed       bool   `json:"committed,omitempty"`
	Remaining       *int64 `json:"remaining,omitempty"`
	DenyReason      string `json:"deny_reason,omitempty"`

	// Provider context
	Platform         string `json:"platform,omitempty"`
	ProviderStatus   int    `json:"provider_status,omitempty"`
	ProviderDuration int64  `json:"provider_duration_ms,omitempty"`

	// Error tracking
	Error          string `json:"error,omitempty"`
	ErrorStage     string `json:"error_stage,omitempty"`
	PanicRecovered bool   `json:"panic_recovered,omitempty"`

	// Additional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewWideEvent creates a new WideEvent with a trace ID and timestamp
func NewWideEvent(eventType string) *WideEvent {
	return &WideEvent{
		TraceID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
}

// WithContext attaches a WideEvent to a context
func WithContext(ctx context.Context, event *WideEvent) context.Context {
	ctx = context.WithValue(ctx, contextKeyWideEvent, event)
	ctx = context.WithValue(ctx, contextKeyTraceID, event.TraceID)
	return ctx
}

// FromContext retrieves the WideEvent from a context
func FromContext(ctx context.Context) *WideEvent {
	if event, ok := ctx.Value(contextKeyWideEvent).(*WideEvent); ok {
		return event
	}
	return nil
}

// GetTraceID retrieves just the trace ID from context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(contextKeyTraceID).(string); ok {
		return traceID
	}
	return ""
}

func enrich(ctx context.Context, fn func(e *WideEvent)) {
	if event := FromContext(ctx); event != nil {
		event.mu.Lock()
		fn(event)
		event.mu.Unlock()
	}
}

// Enrich helpers - these allow different parts of the code to enrich the event

func EnrichHTTP(ctx context.Context, method, path, clientIP string) {
	enrich(ctx, func(e *WideEvent) {
		e.HTTPMethod = method
		e.HTTPPath = path
		e.ClientIP = clientIP
	})
}

func EnrichHTTPStatus(ctx context.Context, statusCode int) {
	enrich(ctx, func(e *WideEvent) { e.HTTPStatusCode = statusCode })
}

func EnrichHTTPDuration(ctx context.Context, duration time.Duration) {
	enrich(ctx, func(e *WideEvent) { e.HTTPDurationMs = duration.Milliseconds() })
}

func EnrichIdentity(ctx context.Context, identityID, email string) {
	enrich(ctx, func(e *WideEvent) {
		e.IdentityID = identityID
		e.IdentityEmail = email
	})
}

func EnrichDevice(ctx context.Context, deviceID, source string) {
	enrich(ctx, func(e *WideEvent) {
		e.DeviceID = deviceID
		e.Source = source
	})
}

func EnrichEntitlement(ctx context.Context, mode string, committed bool, remaining int64) {
	enrich(ctx, func(e *WideEvent) {
		e.EntitlementMode = mode
		e.Committed = committed
		e.Remaining = &remaining
	})
}

func EnrichDenied(ctx context.Context, reason string) {
	enrich(ctx, func(e *WideEvent) { e.DenyReason = reason })
}

func EnrichPlatform(ctx context.Context, platform string) {
	enrich(ctx, func(e *WideEvent) { e.Platform = platform })
}

func EnrichProvider(ctx context.Context, status int, duration time.Duration) {
	enrich(ctx, func(e *WideEvent) {
		e.ProviderStatus = status
		e.ProviderDuration = duration.Milliseconds()
	})
}

func EnrichError(ctx context.Context, err error, stage string) {
	enrich(ctx, func(e *WideEvent) {
		if err != nil {
			e.Error = err.Error()
			e.ErrorStage = stage
		}
	})
}

func EnrichPanic(ctx context.Context) {
	enrich(ctx, func(e *WideEvent) { e.PanicRecovered = true })
}

func EnrichMetadata(ctx context.Context, key string, value interface{}) {
	enrich(ctx, func(e *WideEvent) { e.Metadata[key] = value })
}

// Emit outputs the WideEvent as a structured log
func Emit(ctx context.Context) {
	event := FromContext(ctx)
	if event == nil {
		return
	}
	event.mu.Lock()
	defer event.mu.Unlock()

	attrs := []slog.Attr{
		slog.String("trace_id", event.TraceID),
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", event.Timestamp),
	}

	// HTTP metadata
	if event.HTTPMethod != "" {
		attrs = append(attrs, slog.String("http_method", event.HTTPMethod))
	}
	if event.HTTPPath != "" {
		attrs = append(attrs, slog.String("http_path", event.HTTPPath))
	}
	if event.HTTPStatusCode != 0 {
		attrs = append(attrs, slog.Int("http_status_code", event.HTTPStatusCode))
	}
	if event.HTTPDurationMs != 0 {
		attrs = append(attrs, slog.Int64("http_duration_ms", event.HTTPDurationMs))
	}
	if event.ClientIP != "" {
		attrs = append(attrs, slog.String("client_ip", event.ClientIP))
	}

	// Caller context
	if event.IdentityID != "" {
		attrs = append(attrs, slog.String("identity_id", event.IdentityID))
	}
	if event.IdentityEmail != "" {
		attrs = append(attrs, slog.String("identity_email", event.IdentityEmail))
	}
	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}
	if event.Source != "" {
		attrs = append(attrs, slog.String("source", event.Source))
	}

	// Entitlement context
	if event.EntitlementMode != "" {
		attrs = append(attrs, slog.String("entitlement_mode", event.EntitlementMode))
		attrs = append(attrs, slog.Bool("committed", event.Committed))
	}
	if event.Remaining != nil {
		attrs = append(attrs, slog.Int64("remaining", *event.Remaining))
	}
	if event.DenyReason != "" {
		attrs = append(attrs, slog.String("deny_reason", event.DenyReason))
	}

	// Provider context
	if event.Platform != "" {
		attrs = append(attrs, slog.String("platform", event.Platform))
	}
	if event.ProviderStatus != 0 {
		attrs = append(attrs, slog.Int("provider_status", event.ProviderStatus))
	}
	if event.ProviderDuration != 0 {
		attrs = append(attrs, slog.Int64("provider_duration_ms", event.ProviderDuration))
	}

	// Error tracking
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if event.ErrorStage != "" {
		attrs = append(attrs, slog.String("error_stage", event.ErrorStage))
	}
	if event.PanicRecovered {
		attrs = append(attrs, slog.Bool("panic_recovered", event.PanicRecovered))
	}

	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", event.Metadata))
	}

	level := slog.LevelInfo
	if event.Error != "" || event.PanicRecovered {
		level = slog.LevelError
	}

	slog.LogAttrs(ctx, level, "wide_event", attrs...)
}
