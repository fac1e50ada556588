package ambient

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
	"go.uber.org/zap"

	"cuewise/pkg/intent"
	"cuewise/pkg/logger"
	"cuewise/pkg/media"
)

const sampleRate = beep.SampleRate(44100)

var speakerOnce sync.Once

// Backend synthesizes ambient audio presets through beep. It owns the
// speaker while active; pause rides on beep.Ctrl and volume on
// effects.Volume, so both apply without rebuilding the stream.
type Backend struct {
	mu sync.Mutex

	ctrl      *beep.Ctrl
	volume    *effects.Volume
	selection string
	active    bool

	events chan media.Event
	log    *zap.Logger
}

// New creates the ambient backend.
func New() *Backend {
	return &Backend{
		events: make(chan media.Event, 16),
		log:    logger.Named("ambient"),
	}
}

func (b *Backend) Source() intent.Source { return intent.SourceAmbient }

func (b *Backend) Events() <-chan media.Event { return b.events }

// Start begins playing a preset. Starting the preset that is already
// playing is a no-op. resumeAt is accepted and ignored: the streams are
// endless loops with no meaningful offset.
func (b *Backend) Start(_ context.Context, selection string, volume int, _ time.Duration) error {
	if selection == "" {
		return media.ErrNoSelection
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active && b.selection == selection {
		return nil
	}
	if b.active {
		b.stopLocked()
	}

	streamer, err := buildStreamer(selection, sampleRate)
	if err != nil {
		return err
	}

	var initErr error
	speakerOnce.Do(func() {
		initErr = speaker.Init(sampleRate, sampleRate.N(time.Second/10))
	})
	if initErr != nil {
		return initErr
	}

	b.ctrl = &beep.Ctrl{Streamer: streamer}
	b.volume = &effects.Volume{
		Streamer: b.ctrl,
		Base:     2,
		Volume:   levelToGain(volume),
		Silent:   volume == 0,
	}
	speaker.Play(b.volume)

	b.selection = selection
	b.active = true
	b.log.Info("ambient playback started",
		zap.String("preset", selection),
		zap.Int("volume", volume))

	b.emit(media.Event{Kind: media.EventReady, Source: intent.SourceAmbient, ItemID: selection})
	return nil
}

func (b *Backend) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return media.ErrNotActive
	}
	speaker.Lock()
	b.ctrl.Paused = true
	speaker.Unlock()
	return nil
}

func (b *Backend) Resume() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return media.ErrNotActive
	}
	speaker.Lock()
	b.ctrl.Paused = false
	speaker.Unlock()
	return nil
}

func (b *Backend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	return nil
}

func (b *Backend) stopLocked() {
	if !b.active {
		return
	}
	speaker.Clear()
	b.ctrl = nil
	b.volume = nil
	b.selection = ""
	b.active = false
	b.log.Info("ambient playback stopped")
}

// Seek is a no-op: endless synthesized streams have no position.
func (b *Backend) Seek(_ time.Duration) error {
	return nil
}

func (b *Backend) SetVolume(v int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return media.ErrNotActive
	}
	speaker.Lock()
	b.volume.Volume = levelToGain(v)
	b.volume.Silent = v == 0
	speaker.Unlock()
	return nil
}

func (b *Backend) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *Backend) emit(ev media.Event) {
	select {
	case b.events <- ev:
	default:
	}
}

// levelToGain maps a 0-100 volume to beep's logarithmic gain, where 0
// is unity and each -1 halves the perceived volume.
func levelToGain(v int) float64 {
	if v <= 0 {
		return -10
	}
	if v >= 100 {
		return 0
	}
	return math.Log2(float64(v) / 100)
}
