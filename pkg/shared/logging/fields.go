// Package logging provides the structured-field vocabulary shared by
// every component's zap logger, plus per-domain constructors so callers
// don't hand-roll the same map literals at every call site.
package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields is an unordered bag of structured log attributes.
type Fields map[string]interface{}

// NewFields starts an empty field set.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(op string) Fields {
	f["operation"] = op
	return f
}

func (f Fields) Resource(resourceType, resourceName string) Fields {
	f["resource_type"] = resourceType
	if resourceName != "" {
		f["resource_name"] = resourceName
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	if id != "" {
		f["request_id"] = id
	}
	return f
}

func (f Fields) TraceID(id string) Fields {
	if id != "" {
		f["trace_id"] = id
	}
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

func (f Fields) Method(m string) Fields {
	f["method"] = m
	return f
}

func (f Fields) URL(u string) Fields {
	f["url"] = u
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

func (f Fields) Version(v string) Fields {
	f["version"] = v
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// ToZap flattens the field set into zap.Field slices for use with a
// *zap.Logger's structured logging calls.
func (f Fields) ToZap() []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// ToMap exposes the raw map, useful where a caller needs the plain
// key/value pairs (e.g. audit metadata or a zapcore.ObjectMarshaler).
func (f Fields) ToMap() map[string]interface{} {
	return f
}

var _ zapcore.ObjectMarshaler = Fields{}

// MarshalLogObject lets Fields be passed directly to zap.Object.
func (f Fields) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for k, v := range f {
		if err := enc.AddReflected(k, v); err != nil {
			return err
		}
	}
	return nil
}

// DatabaseFields scopes a database operation over a table resource.
func DatabaseFields(operation, table string) Fields {
	return NewFields().Component("database").Operation(operation).Resource("table", table)
}

// HTTPFields scopes an inbound/outbound HTTP call.
func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().Component("http").Method(method).URL(url).StatusCode(statusCode)
}

// WorkflowFields scopes a hydration-run or promotion-request operation.
func WorkflowFields(operation, workflowID string) Fields {
	return NewFields().Component("workflow").Operation(operation).Resource("workflow", workflowID)
}

// HydrationFields scopes a per-item hydration step to its workspace.
func HydrationFields(operation, resourceType, resourceName, workspaceID string) Fields {
	f := NewFields().Component("hydration").Operation(operation).Resource(resourceType, resourceName)
	if workspaceID != "" {
		f["workspace_id"] = workspaceID
	}
	return f
}

// AIFields scopes a model-backed call (ML classifier, embedding provider).
func AIFields(operation, model string) Fields {
	return NewFields().Component("ai").Operation(operation).Custom("model", model)
}

// MetricsFields scopes a metric recording event.
func MetricsFields(operation, metricName string, value float64) Fields {
	return NewFields().Component("metrics").Operation(operation).Custom("metric_name", metricName).Custom("value", value)
}

// SecurityFields scopes a PDP/ACL/audit decision to its subject.
func SecurityFields(operation, subject string) Fields {
	return NewFields().Component("security").Operation(operation).Custom("subject", subject)
}

// PerformanceFields scopes a timed operation's outcome.
func PerformanceFields(operation string, d time.Duration, success bool) Fields {
	return NewFields().Component("performance").Operation(operation).Duration(d).Custom("success", success)
}
