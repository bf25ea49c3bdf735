//go:build whispercpp

package main

import (
	"github.com/MrWong99/voicenav/internal/config"
	"github.com/MrWong99/voicenav/pkg/provider/stt"
	"github.com/MrWong99/voicenav/pkg/provider/stt/whisper"
)

func registerNative(reg *config.Registry) {
	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry, l config.ListeningConfig) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		return whisper.NewNative(modelPath, language(entry, l), segmentation(l)...)
	})
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
