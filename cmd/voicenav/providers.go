package main

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voicenav/internal/config"
	"github.com/MrWong99/voicenav/pkg/provider/stt"
	"github.com/MrWong99/voicenav/pkg/provider/stt/batch"
	"github.com/MrWong99/voicenav/pkg/provider/stt/deepgram"
	"github.com/MrWong99/voicenav/pkg/provider/stt/openai"
	"github.com/MrWong99/voicenav/pkg/provider/stt/whisper"
)

// registerBuiltinProviders wires the speech providers that ship with
// voicenav into reg. whisper-native is added by builds with the whispercpp
// tag.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry, l config.ListeningConfig) (stt.Provider, error) {
		opts := []whisper.Option{
			whisper.WithLanguage(language(entry, l)),
			whisper.WithSegmentation(segmentation(l)...),
		}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry, l config.ListeningConfig) (stt.Provider, error) {
		opts := []openai.Option{
			openai.WithLanguage(language(entry, l)),
			openai.WithSegmentation(segmentation(l)...),
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry, l config.ListeningConfig) (stt.Provider, error) {
		opts := []deepgram.Option{deepgram.WithLanguage(language(entry, l))}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if l.SilenceThresholdMS > 0 {
			opts = append(opts, deepgram.WithEndpointing(l.SilenceThresholdMS))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	registerNative(reg)

	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

// language prefers the entry's own language over the listening default.
func language(entry config.ProviderEntry, l config.ListeningConfig) string {
	if entry.Language != "" {
		return entry.Language
	}
	return l.Language
}

// segmentation maps the listening settings onto utterance segmentation for
// batch backends.
func segmentation(l config.ListeningConfig) []batch.Option {
	var opts []batch.Option
	if l.SilenceThresholdMS > 0 {
		opts = append(opts, batch.WithSilenceThreshold(time.Duration(l.SilenceThresholdMS)*time.Millisecond))
	}
	if l.UtteranceTimeout > 0 {
		opts = append(opts, batch.WithMaxUtterance(l.UtteranceTimeout))
	}
	return opts
}
