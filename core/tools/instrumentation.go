package tools

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-desk/core/tools"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	toolCallCounter, _  = meter.Int64Counter("tool_calls", metric.WithDescription("Tool invocations by tool and outcome"))
	toolCallDuration, _ = meter.Float64Histogram("tool_call_duration", metric.WithUnit("s"))
)
