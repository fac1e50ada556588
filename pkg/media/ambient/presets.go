package ambient

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/generators"
)

// ErrUnknownPreset is returned when a selection names no known preset.
var ErrUnknownPreset = errors.New("unknown ambient preset")

// Presets returns the available ambient selections.
func Presets() []string {
	return []string{
		"white-noise",
		"pink-noise",
		"brown-noise",
		"rain",
		"drone-low",
		"drone-high",
	}
}

// buildStreamer renders a preset as an endless beep streamer. Ambient
// sounds are synthesized loops with no meaningful offset, which is why
// the backend ignores resumeAt.
func buildStreamer(name string, sr beep.SampleRate) (beep.Streamer, error) {
	switch name {
	case "white-noise":
		return &noise{gain: 0.5}, nil
	case "pink-noise":
		return newPinkNoise(), nil
	case "brown-noise":
		return &brownNoise{}, nil
	case "rain":
		// Rain reads as brown noise with a quiet white hiss on top.
		brown := &brownNoise{}
		hiss := &noise{gain: 0.12}
		return beep.Mix(brown, hiss), nil
	case "drone-low":
		return sine(sr, 55)
	case "drone-high":
		return sine(sr, 220)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
}

func sine(sr beep.SampleRate, freq float64) (beep.Streamer, error) {
	s, err := generators.SineTone(sr, freq)
	if err != nil {
		return nil, fmt.Errorf("failed to build sine tone: %w", err)
	}
	return s, nil
}

// noise is uniform white noise.
type noise struct {
	gain float64
}

func (n *noise) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		v := (rand.Float64()*2 - 1) * n.gain
		samples[i][0] = v
		samples[i][1] = v
	}
	return len(samples), true
}

func (n *noise) Err() error { return nil }

// brownNoise integrates white noise, clamped so the walk never escapes
// the sample range.
type brownNoise struct {
	last float64
}

func (b *brownNoise) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		b.last += (rand.Float64()*2 - 1) * 0.02
		if b.last > 1 {
			b.last = 1
		}
		if b.last < -1 {
			b.last = -1
		}
		samples[i][0] = b.last
		samples[i][1] = b.last
	}
	return len(samples), true
}

func (b *brownNoise) Err() error { return nil }

// pinkNoise approximates 1/f noise with the Voss-McCartney row trick.
type pinkNoise struct {
	rows    [8]float64
	counter int
}

func newPinkNoise() *pinkNoise {
	p := &pinkNoise{}
	for i := range p.rows {
		p.rows[i] = rand.Float64()*2 - 1
	}
	return p
}

func (p *pinkNoise) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		p.counter++
		// Refresh the row whose bit flipped this tick.
		for row := 0; row < len(p.rows); row++ {
			if p.counter&(1<<row) != 0 {
				p.rows[row] = rand.Float64()*2 - 1
				break
			}
		}
		var sum float64
		for _, v := range p.rows {
			sum += v
		}
		v := sum / float64(len(p.rows))
		samples[i][0] = v
		samples[i][1] = v
	}
	return len(samples), true
}

func (p *pinkNoise) Err() error { return nil }
