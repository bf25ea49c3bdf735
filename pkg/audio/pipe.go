package audio

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPermissionDenied is reported by a capture client whose user refused
// microphone access.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// DefaultPipeFrames is the queue length of a [Pipe] created with size <= 0.
// At the 20ms frames browsers typically send that is about 10s of audio.
const DefaultPipeFrames = 512

// Pipe buffers frames between one capture client and one recognizer.
//
// Write never blocks: when the queue is full the frame is dropped and
// counted. Every frame is normalized to [RecognitionFormat] on the way in.
type Pipe struct {
	frames chan Frame
	faults chan error
	done   chan struct{}
	once   sync.Once

	convMu sync.Mutex
	conv   Converter

	dropped atomic.Int64
}

// NewPipe returns a Pipe holding up to size frames.
func NewPipe(size int) *Pipe {
	if size <= 0 {
		size = DefaultPipeFrames
	}
	return &Pipe{
		frames: make(chan Frame, size),
		faults: make(chan error, 1),
		done:   make(chan struct{}),
		conv:   Converter{Target: RecognitionFormat},
	}
}

// Write queues f. It reports false if the frame was dropped because the
// pipe is closed, full or the frame was malformed.
func (p *Pipe) Write(f Frame) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	p.convMu.Lock()
	f = p.conv.Convert(f)
	p.convMu.Unlock()
	if len(f.Data) == 0 {
		return false
	}

	select {
	case p.frames <- f:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Frames is the read side. It is never closed; select on [Pipe.Done] too.
func (p *Pipe) Frames() <-chan Frame { return p.frames }

// Fail reports a capture problem on the client side, such as a denied or
// unplugged microphone. Only the first fault since the last [Pipe.Discard]
// is kept.
func (p *Pipe) Fail(err error) {
	if err == nil {
		return
	}
	select {
	case p.faults <- err:
	default:
	}
}

// Faults delivers errors passed to [Pipe.Fail].
func (p *Pipe) Faults() <-chan error { return p.faults }

// Done is closed by [Pipe.Close].
func (p *Pipe) Done() <-chan struct{} { return p.done }

// Discard empties the queue and any pending fault, and returns how many
// frames it removed. A recognizer calls it before starting so stale audio is
// not transcribed.
func (p *Pipe) Discard() int {
	select {
	case <-p.faults:
	default:
	}
	n := 0
	for {
		select {
		case <-p.frames:
			n++
		default:
			return n
		}
	}
}

// Dropped returns how many frames were lost to a full queue.
func (p *Pipe) Dropped() int64 { return p.dropped.Load() }

// Close stops accepting frames. It is safe to call more than once.
func (p *Pipe) Close() {
	p.once.Do(func() { close(p.done) })
}
