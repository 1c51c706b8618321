package events

// KindTranscriptionFinal identifies a finalized user utterance.
const KindTranscriptionFinal Kind = "user_input.transcript_final"

// TranscriptionFinal carries a finalized utterance. Typed is set for input
// that did not come from the microphone.
type TranscriptionFinal struct {
	Base
	Transcript string
	Typed      bool
}

// NewTranscriptionFinal creates a finalized transcript event.
func NewTranscriptionFinal(transcript string, typed bool) TranscriptionFinal {
	return TranscriptionFinal{Base: NewBase(KindTranscriptionFinal), Transcript: transcript, Typed: typed}
}
