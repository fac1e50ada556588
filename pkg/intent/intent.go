package intent

import "time"

// Source identifies which media backend the replicated intent targets.
// At most one source is active at a time.
type Source string

const (
	SourceNone     Source = "NONE"
	SourceAmbient  Source = "AMBIENT"
	SourceExternal Source = "EXTERNAL"
)

// Valid reports whether the value is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceNone, SourceAmbient, SourceExternal:
		return true
	}
	return false
}

// Transport is the desired playback transport state.
type Transport string

const (
	TransportStopped Transport = "STOPPED"
	TransportPlaying Transport = "PLAYING"
	TransportPaused  Transport = "PAUSED"
)

// Valid reports whether the value is a known transport state.
func (t Transport) Valid() bool {
	switch t {
	case TransportStopped, TransportPlaying, TransportPaused:
		return true
	}
	return false
}

// IsActive returns true if the transport implies a loaded backend.
func (t Transport) IsActive() bool {
	return t == TransportPlaying || t == TransportPaused
}

// Intent is the replicated description of what should be playing,
// independent of which instance executes it. It is a single logical
// row: last write wins, no merge.
type Intent struct {
	ActiveSource      Source    `json:"active_source"`
	Transport         Transport `json:"transport"`
	AmbientSelection  string    `json:"ambient_selection"`
	ExternalSelection string    `json:"external_selection"`
	AmbientVolume     int       `json:"ambient_volume"`
	ExternalVolume    int       `json:"external_volume"`

	// Observability only; never used for conflict resolution.
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

// Default is the first-run intent: nothing selected, both volumes at 50.
func Default() Intent {
	return Intent{
		ActiveSource:   SourceNone,
		Transport:      TransportStopped,
		AmbientVolume:  50,
		ExternalVolume: 50,
	}
}

// Selection returns the selection for the given source.
func (i Intent) Selection(s Source) string {
	switch s {
	case SourceAmbient:
		return i.AmbientSelection
	case SourceExternal:
		return i.ExternalSelection
	}
	return ""
}

// Volume returns the volume for the given source. Volumes persist
// independently so switching sources preserves each one's last value.
func (i Intent) Volume(s Source) int {
	switch s {
	case SourceAmbient:
		return i.AmbientVolume
	case SourceExternal:
		return i.ExternalVolume
	}
	return 0
}

// clampVolume bounds a requested volume to [0,100].
func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
