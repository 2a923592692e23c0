// tracing_otel.go: TracingProvider backed by OpenTelemetry
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "github.com/agilira/modhub"

// OTelTracingProvider starts OpenTelemetry spans for manager operations.
type OTelTracingProvider struct {
	tracer trace.Tracer
}

// NewOTelTracingProvider uses tp, or the global tracer provider when tp is
// nil.
func NewOTelTracingProvider(tp trace.TracerProvider) *OTelTracingProvider {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &OTelTracingProvider{tracer: tp.Tracer(defaultTracerName)}
}

// StartSpan implements TracingProvider
func (o *OTelTracingProvider) StartSpan(ctx context.Context, operationName string) (context.Context, Span) {
	ctx, span := o.tracer.Start(ctx, "modhub."+operationName)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case uint32:
		s.span.SetAttributes(attribute.Int64(key, int64(v)))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprint(v)))
	}
}

func (s *otelSpan) SetStatus(code SpanStatusCode, message string) {
	if code == SpanStatusOK {
		s.span.SetStatus(codes.Ok, message)
		return
	}
	s.span.SetStatus(codes.Error, message)
}

func (s *otelSpan) Finish() {
	s.span.End()
}
