// Package events defines the typed session events the orchestrator hands
// to its event callback.
//
// Event kinds are grouped by namespace:
//
//   - user_input.transcript_final: a finalized utterance from the microphone
//     or typed input.
//   - assistant_response.text_delta: a piece of the reply, in stream order.
//   - tool_call.started, tool_call.completed, tool_call.failed: tool
//     execution inside a turn.
//   - turn_state.status_changed: the active turn moved to a new status.
//   - dictation.mode_changed: voice typing was switched on or off.
//   - dictation.acknowledgement: a short local reply that needs no model,
//     such as "Voice typing enabled.".
//   - interruption.heard: an interrupt phrase cancelled the active turn.
//   - session.ended: the session stopped, by quit word or shutdown.
package events
