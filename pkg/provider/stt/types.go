package stt

import "time"

// Transcript is a final recognition result.
type Transcript struct {
	// Text is the recognized phrase as the engine produced it.
	Text string

	// Confidence is the engine's score in [0, 1]. Zero when the engine does
	// not report one.
	Confidence float64

	// Language is the detected language, when the engine reports it.
	Language string

	// Duration is the length of the audio the transcript covers.
	Duration time.Duration
}

// KeywordBoost is a vocabulary hint for engines that support biasing.
type KeywordBoost struct {
	Keyword string

	// Boost is the intensity on the provider's scale. Zero means the
	// provider default.
	Boost float64
}

// Keywords wraps plain words into boosts with the default intensity.
func Keywords(words ...string) []KeywordBoost {
	out := make([]KeywordBoost, 0, len(words))
	for _, w := range words {
		if w != "" {
			out = append(out, KeywordBoost{Keyword: w})
		}
	}
	return out
}
