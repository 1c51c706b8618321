package deepgram

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/koscakluka/ema-desk/core/audio"
)

var ErrUnsupportedEncoding = errors.New("unsupported audio encoding")

// listenEncoding describes broker frames to the listen endpoint. Frames are
// always mono.
type listenEncoding struct {
	name       string
	sampleRate int
}

func listenEncodingFor(info audio.EncodingInfo) (listenEncoding, error) {
	switch info.SampleRate {
	case 8000, 16000, 24000, 32000, 48000:
	default:
		return listenEncoding{}, fmt.Errorf("%w: sample rate %d", ErrUnsupportedEncoding, info.SampleRate)
	}

	switch info.Format {
	case audio.EncodingLinear16:
		return listenEncoding{name: "linear16", sampleRate: info.SampleRate}, nil
	case audio.EncodingALaw, audio.EncodingMulaw:
		// companded formats are telephony only
		if info.SampleRate != 8000 {
			return listenEncoding{}, fmt.Errorf("%w: %s needs 8000 Hz, got %d", ErrUnsupportedEncoding, info.Format, info.SampleRate)
		}
		return listenEncoding{name: string(info.Format), sampleRate: info.SampleRate}, nil
	}
	return listenEncoding{}, fmt.Errorf("%w: format %q", ErrUnsupportedEncoding, info.Format)
}

func (e listenEncoding) apply(query url.Values) {
	query.Set("encoding", e.name)
	query.Set("sample_rate", strconv.Itoa(e.sampleRate))
	query.Set("channels", "1")
}
