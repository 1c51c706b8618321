package orchestration

import events "github.com/koscakluka/ema-desk/core/events"

type eventEmitter func(events.Event)

func newCallbackEventEmitter(opts OrchestrateOptions) eventEmitter {
	return func(event events.Event) {
		switch typedEvent := event.(type) {
		case events.TranscriptionFinal:
			if opts.onTranscription != nil {
				opts.onTranscription(typedEvent.Transcript)
			}
		case events.TextDelta:
			if opts.onResponse != nil {
				opts.onResponse(typedEvent.Text)
			}
		case events.TurnStatusChanged:
			switch typedEvent.Status {
			case TurnCompleted.String(), TurnFailed.String():
				if opts.onResponseEnd != nil {
					opts.onResponseEnd()
				}
			case TurnCancelled.String():
				if opts.onCancellation != nil {
					opts.onCancellation()
				}
			}
		case events.DictationModeChanged:
			if opts.onDictationMode != nil {
				opts.onDictationMode(typedEvent.Mode)
			}
		}
	}
}
