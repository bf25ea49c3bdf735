//go:build !whispercpp

package main

import "github.com/MrWong99/voicenav/internal/config"

// registerNative is a no-op without the whispercpp build tag; configuring
// whisper-native then leaves speech unavailable with a warning.
func registerNative(*config.Registry) {}
