// Package audio carries microphone audio from a capture client to speech
// recognition.
//
// Browsers capture at whatever rate the device offers (usually 44.1 or
// 48 kHz) and send 16-bit little-endian PCM frames. Recognition backends want
// 16 kHz mono, so frames are normalized with [Converter] on arrival and
// buffered in a [Pipe] until a recognizer reads them.
package audio

import "time"

// Frame is one chunk of captured PCM audio.
type Frame struct {
	// Data is interleaved 16-bit little-endian PCM.
	Data []byte

	SampleRate int
	Channels   int

	// Captured is when the client recorded the frame. Zero if unknown.
	Captured time.Time
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return PCMDuration(len(f.Data), f.SampleRate, f.Channels)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// RecognitionFormat is what every speech-to-text provider is fed.
var RecognitionFormat = Format{SampleRate: 16000, Channels: 1}
