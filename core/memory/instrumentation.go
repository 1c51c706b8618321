package memory

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-desk/core/memory"

var logger = otelslog.NewLogger(scopeName)
