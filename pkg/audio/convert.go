package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Converter normalizes frames to a target format. The first mismatching
// frame is logged once. A Converter is meant for a single stream.
type Converter struct {
	Target Format

	warnMismatch sync.Once
	warnCorrupt  sync.Once
}

// Convert downmixes to mono if needed, then resamples. Frames whose length
// is not a whole number of samples are dropped (an empty Data is returned).
// Only mono targets are supported; a stereo target leaves channels alone.
func (c *Converter) Convert(f Frame) Frame {
	channels := max(f.Channels, 1)
	if len(f.Data)%(2*channels) != 0 {
		c.warnCorrupt.Do(func() {
			slog.Warn("audio: dropping misaligned frame", "bytes", len(f.Data), "channels", channels)
		})
		return Frame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Captured: f.Captured}
	}
	if f.SampleRate == c.Target.SampleRate && channels == c.Target.Channels {
		return f
	}
	c.warnMismatch.Do(func() {
		slog.Info("audio: converting capture format",
			"from", describe(f.SampleRate, channels),
			"to", describe(c.Target.SampleRate, c.Target.Channels))
	})

	pcm := f.Data
	if c.Target.Channels == 1 && channels > 1 {
		pcm = Downmix(pcm, channels)
		channels = 1
	}
	rate := f.SampleRate
	if channels == 1 && rate != c.Target.SampleRate {
		pcm = Resample(pcm, rate, c.Target.SampleRate)
		rate = c.Target.SampleRate
	}
	return Frame{Data: pcm, SampleRate: rate, Channels: channels, Captured: f.Captured}
}

// Downmix averages interleaved channels into one. Averaging is done in
// int32 so the result always fits int16.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	width := 2 * channels
	frames := len(pcm) / width
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(sampleAt(pcm, i*channels+ch))
		}
		putSample(out, i, int16(sum/int32(channels)))
	}
	return out
}

// Resample converts mono 16-bit PCM from src to dst Hz by linear
// interpolation. Equal or invalid rates return the input unchanged.
func Resample(pcm []byte, src, dst int) []byte {
	if src <= 0 || dst <= 0 || src == dst || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	outN := int(int64(n) * int64(dst) / int64(src))
	if outN == 0 {
		return nil
	}
	out := make([]byte, outN*2)
	step := float64(src) / float64(dst)
	for i := range outN {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		a := sampleAt(pcm, idx)
		b := a
		if idx+1 < n {
			b = sampleAt(pcm, idx+1)
		}
		putSample(out, i, int16(float64(a)*(1-frac)+float64(b)*frac))
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
}

func putSample(pcm []byte, i int, v int16) {
	pcm[2*i] = byte(v)
	pcm[2*i+1] = byte(uint16(v) >> 8)
}

func describe(rate, channels int) string {
	switch channels {
	case 1:
		return fmt.Sprintf("%dHz mono", rate)
	case 2:
		return fmt.Sprintf("%dHz stereo", rate)
	}
	return fmt.Sprintf("%dHz %dch", rate, channels)
}
