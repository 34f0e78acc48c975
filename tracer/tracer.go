// Package tracer implements the span/attribute tracing contract used
// throughout incline (spec.md section 6, "Tracer contract"). Grounded on
// original_source/incline/InclineTrace.py (the opentelemetry.trace usage
// being ported) and original_source/incline/flatten.py (the attribute
// flattening algorithm, reproduced here as flattenAttrs).
package tracer

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Span is a scoped tracing context: attributes may be attached until End
// is called.
type Span interface {
	SetAttribute(key string, value any)
	End()
}

// Tracer opens spans. NoopTracer's zero value is usable without further
// setup; an OTelTracer must be built with NewOTelTracer.
type Tracer interface {
	Span(ctx context.Context, name string) (context.Context, Span)
}

// NoopTracer discards every span and attribute; it is the default when no
// tracer is configured (spec.md section 6, Configuration defaults).
type NoopTracer struct{}

func (NoopTracer) Span(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) SetAttribute(string, any) {}
func (noopSpan) End()                     {}

// OTelTracer is a Tracer backed by go.opentelemetry.io/otel, using
// otel.Tracer(name) the way InclineTrace wraps
// opentelemetry.trace.get_tracer(name).
type OTelTracer struct {
	tracer oteltrace.Tracer
}

// NewOTelTracer constructs an OTelTracer scoped to name, the Go analog of
// InclineTrace's name parameter.
func NewOTelTracer(name string) *OTelTracer {
	return &OTelTracer{tracer: otel.Tracer(name)}
}

func (t *OTelTracer) Span(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span oteltrace.Span
}

// SetAttribute sets a single scalar span attribute, skipping dat fields
// (and nil values) the way map_request_span/map_response_span do.
func (s *otelSpan) SetAttribute(key string, value any) {
	if value == nil || isDatField(key) {
		return
	}
	s.span.SetAttributes(toAttribute(key, value))
}

func (s *otelSpan) End() {
	s.span.End()
}

func isDatField(key string) bool {
	if key == "dat" {
		return true
	}
	for i := 0; i+4 <= len(key); i++ {
		if key[i:i+4] == ".dat" && (i+4 == len(key) || key[i+4] == '.') {
			return true
		}
	}
	return false
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// FlattenAttrs flattens a nested map/slice tree into dotted-path scalar
// attributes, excluding any path that names or is nested under "dat", the
// Go rewrite of flatten.py specialized to also drop payload fields
// directly (flatten.py's caller does the dat-filtering; here it is
// folded into the flatten step itself since attributes are the only
// consumer).
func FlattenAttrs(val map[string]any, prefix string) map[string]string {
	out := make(map[string]string)
	flattenInto(val, prefix, out)
	return out
}

func flattenInto(val any, prefix string, out map[string]string) {
	if prefix != "" && isDatField(prefix) {
		return
	}
	switch v := val.(type) {
	case nil:
		return
	case map[string]any:
		for k, e := range v {
			flattenInto(e, joinPath(prefix, k), out)
		}
	case []any:
		for i, e := range v {
			flattenInto(e, joinPath(prefix, strconv.Itoa(i)), out)
		}
	case string:
		out[prefix] = v
	default:
		out[prefix] = fmt.Sprintf("%v", v)
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
