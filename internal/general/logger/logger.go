package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// ErrorObject carries the error message and stack on ERROR entries.
type ErrorObject struct {
	Msg   string `json:"msg"`
	Stack string `json:"stack"`
}

// LogEntry is one JSON line on stdout. request_id and delivery_id are
// filled from the context when a handler or service attached them, so a
// whole delivery's trail can be grepped out of the combined service logs.
type LogEntry struct {
	Timestamp  string       `json:"timestamp"`
	Level      string       `json:"level"` // DEBUG | INFO | ERROR
	Service    string       `json:"service"`
	Action     string       `json:"action"` // machine-matchable event name
	Message    string       `json:"message"`
	Hostname   string       `json:"hostname"`
	RequestID  string       `json:"request_id,omitempty"`
	DeliveryID string       `json:"delivery_id,omitempty"`
	Details    any          `json:"details,omitempty"`
	Error      *ErrorObject `json:"error,omitempty"`
}

type Logger struct {
	service  string
	hostname string
	mu       sync.Mutex
}

// New returns a logger stamped with the service name and hostname.
func New(service string) *Logger {
	hn, err := os.Hostname()
	if err != nil || strings.TrimSpace(hn) == "" {
		hn = "unknown-hostname"
	}
	if strings.TrimSpace(service) == "" {
		service = "unknown-service"
	}
	return &Logger{service: service, hostname: hn}
}

// Debug writes a DEBUG line.
func (l *Logger) Debug(ctx context.Context, action, msg string, details any) {
	l.emit(l.entry(ctx, "DEBUG", action, msg, details))
}

// Info writes an INFO line.
func (l *Logger) Info(ctx context.Context, action, msg string, details any) {
	l.emit(l.entry(ctx, "INFO", action, msg, details))
}

// Error writes an ERROR line with the error message and a stack trace.
func (l *Logger) Error(ctx context.Context, action, msg string, err error, details any) {
	if err == nil {
		err = fmt.Errorf("unknown error")
	}
	e := l.entry(ctx, "ERROR", action, msg, details)
	e.Error = &ErrorObject{
		Msg:   strings.TrimSpace(err.Error()),
		Stack: string(debug.Stack()),
	}
	l.emit(e)
}

func (l *Logger) entry(ctx context.Context, level, action, msg string, details any) LogEntry {
	action = strings.TrimSpace(action)
	if action == "" {
		action = "unspecified_action"
	}
	return LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Level:      level,
		Service:    l.service,
		Action:     action,
		Message:    strings.TrimSpace(msg),
		Hostname:   l.hostname,
		RequestID:  fromCtx(ctx, ctxKeyRequestID),
		DeliveryID: fromCtx(ctx, ctxKeyDeliveryID),
		Details:    details,
	}
}

// emit writes one line. Marshal failures degrade step by step so the
// stream stays valid JSON: first without details, then as a hardcoded
// error entry.
func (l *Logger) emit(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := json.Marshal(e)
	if err == nil {
		fmt.Println(string(b))
		return
	}

	e.Details = nil
	if b, err := json.Marshal(e); err == nil {
		fmt.Println(string(b))
		return
	}

	fallback := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"level":     "ERROR",
		"service":   l.service,
		"action":    "logger_marshal_failed",
		"message":   "failed to encode log entry",
		"hostname":  l.hostname,
		"error": ErrorObject{
			Msg:   strings.TrimSpace(err.Error()),
			Stack: string(debug.Stack()),
		},
	}
	if fb, err := json.Marshal(fallback); err == nil {
		fmt.Println(string(fb))
	} else {
		fmt.Fprintf(os.Stderr, "log marshal failed: %v\n", err)
	}
}

// ----- context plumbing -----

type ctxKey string

const (
	ctxKeyRequestID  ctxKey = "droneapp_request_id"
	ctxKeyDeliveryID ctxKey = "droneapp_delivery_id"
)

// WithRequestID attaches a request correlation id; subsequent log calls
// on the returned context carry it.
func (l *Logger) WithRequestID(ctx context.Context, reqID string) context.Context {
	if strings.TrimSpace(reqID) == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyRequestID, reqID)
}

// WithDeliveryID attaches the delivery id the operation concerns.
func (l *Logger) WithDeliveryID(ctx context.Context, deliveryID string) context.Context {
	if strings.TrimSpace(deliveryID) == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyDeliveryID, deliveryID)
}

func fromCtx(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}
