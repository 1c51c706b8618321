package texttospeech

import (
	"errors"

	"github.com/koscakluka/ema-desk/core/audio"
)

// ErrCleared is returned by a synthesis request that was dropped by Clear
// before the engine finished it.
var ErrCleared = errors.New("speech synthesis cleared")

type TextToSpeechOptions struct {
	EncodingInfo audio.EncodingInfo
}

type TextToSpeechOption func(*TextToSpeechOptions)

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TextToSpeechOption {
	return func(o *TextToSpeechOptions) {
		if encodingInfo.IsZero() {
			return
		}

		o.EncodingInfo = encodingInfo
	}
}
