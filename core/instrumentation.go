package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-desk/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	turnCounter, _         = meter.Int64Counter("turns", metric.WithDescription("Conversation turns by terminal status"))
	interruptionCounter, _ = meter.Int64Counter("interruptions", metric.WithDescription("Spoken interruptions that cancelled a turn"))
)
