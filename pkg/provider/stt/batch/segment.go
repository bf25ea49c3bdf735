package batch

import (
	"time"

	"github.com/MrWong99/voicenav/pkg/audio"
)

// segmenter splits a PCM stream into utterances at pauses. Leading silence
// is discarded; trailing silence up to the threshold is kept with the
// utterance.
type segmenter struct {
	sampleRate int
	channels   int
	threshold  float64
	silence    time.Duration
	maxBytes   int

	buf       []byte
	hadSpeech bool
	quiet     time.Duration
}

func newSegmenter(sampleRate, channels int, threshold float64, silence, maxUtterance time.Duration) *segmenter {
	bytesPerSecond := sampleRate * channels * 2
	return &segmenter{
		sampleRate: sampleRate,
		channels:   channels,
		threshold:  threshold,
		silence:    silence,
		maxBytes:   int(int64(bytesPerSecond) * int64(maxUtterance) / int64(time.Second)),
	}
}

// push adds a chunk and returns a completed utterance, or nil.
func (s *segmenter) push(chunk []byte) []byte {
	if audio.RMS(chunk) < s.threshold {
		if !s.hadSpeech {
			return nil
		}
		s.buf = append(s.buf, chunk...)
		s.quiet += audio.PCMDuration(len(chunk), s.sampleRate, s.channels)
		if s.quiet >= s.silence {
			return s.flush()
		}
		return nil
	}

	s.hadSpeech = true
	s.quiet = 0
	s.buf = append(s.buf, chunk...)
	if s.maxBytes > 0 && len(s.buf) >= s.maxBytes {
		return s.flush()
	}
	return nil
}

// flush returns the buffered utterance, or nil if it holds no speech, and
// resets the segmenter.
func (s *segmenter) flush() []byte {
	out := s.buf
	if !s.hadSpeech {
		out = nil
	}
	s.buf = nil
	s.hadSpeech = false
	s.quiet = 0
	return out
}
