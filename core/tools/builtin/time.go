package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/koscakluka/ema-desk/core/tools"
)

type timeDateArgs struct{}

// TimeDate reports the local time, ISO date and weekday. now is injectable
// for tests, nil means time.Now.
func TimeDate(now func() time.Time) tools.Tool {
	if now == nil {
		now = time.Now
	}
	return tools.NewTool("get_time_date", "Get the current local time, date and weekday",
		func(context.Context, timeDateArgs) (tools.Result, error) {
			current := now()
			data := map[string]string{
				"time":    current.Format("03:04 PM"),
				"date":    current.Format(time.DateOnly),
				"weekday": current.Weekday().String(),
			}
			return tools.Result{
				Summary: fmt.Sprintf("It's %s on %s, %s.", data["time"], data["weekday"], data["date"]),
				Data:    data,
			}, nil
		})
}
