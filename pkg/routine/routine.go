package routine

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"cuewise/pkg/intent"
	"cuewise/pkg/logger"
	"cuewise/pkg/metrics"
)

// Routine is one config-declared schedule entry: at the given cron
// times, apply a playback action as if a user had pressed the button.
type Routine struct {
	Name      string        `json:"name"`
	Schedule  string        `json:"schedule"`
	Action    string        `json:"action"` // play | pause | stop
	Source    intent.Source `json:"source,omitempty"`
	Selection string        `json:"selection,omitempty"`
	Volume    *int          `json:"volume,omitempty"`
}

// Leadership is the runner's view of the election service.
type Leadership interface {
	IsLeader() bool
}

type entry struct {
	def      Routine
	schedule cron.Schedule
	next     time.Time
}

// Runner fires configured routines on the leader. Followers keep their
// schedules ticking but skip silently; whichever instance leads when a
// routine comes due applies it, and the mutation replicates like any
// other intent write.
type Runner struct {
	entries    []*entry
	intents    *intent.Store
	leadership Leadership
	interval   time.Duration
	log        *zap.Logger
}

// NewRunner parses the routine definitions. Invalid schedules or
// actions fail construction; a half-configured runner is worse than a
// loud startup error.
func NewRunner(defs []Routine, intents *intent.Store, leadership Leadership) (*Runner, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	now := time.Now()

	entries := make([]*entry, 0, len(defs))
	for _, def := range defs {
		schedule, err := parser.Parse(def.Schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule for routine %q: %w", def.Name, err)
		}
		switch def.Action {
		case "play":
			if def.Source != intent.SourceAmbient && def.Source != intent.SourceExternal {
				return nil, fmt.Errorf("routine %q: play requires a source", def.Name)
			}
		case "pause", "stop":
		default:
			return nil, fmt.Errorf("routine %q: unknown action %q", def.Name, def.Action)
		}
		entries = append(entries, &entry{
			def:      def,
			schedule: schedule,
			next:     schedule.Next(now),
		})
	}

	return &Runner{
		entries:    entries,
		intents:    intents,
		leadership: leadership,
		interval:   30 * time.Second,
		log:        logger.Named("routine"),
	}, nil
}

// Routines returns the configured definitions.
func (r *Runner) Routines() []Routine {
	out := make([]Routine, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.def)
	}
	return out
}

// Run ticks until ctx is done. Schedules advance on every instance so a
// follower that later wins leadership does not replay missed firings.
func (r *Runner) Run(ctx context.Context) {
	if len(r.entries) == 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, time.Now())
		}
	}
}

func (r *Runner) tick(ctx context.Context, now time.Time) {
	for _, e := range r.entries {
		if now.Before(e.next) {
			continue
		}
		due := e.next
		e.next = e.schedule.Next(now)

		if !r.leadership.IsLeader() {
			continue
		}
		if err := r.apply(ctx, e.def); err != nil {
			r.log.Error("failed to apply routine",
				zap.String("routine", e.def.Name),
				zap.Error(err))
			continue
		}
		metrics.RoutineFires.WithLabelValues(e.def.Action).Inc()
		r.log.Info("routine fired",
			zap.String("routine", e.def.Name),
			zap.String("action", e.def.Action),
			zap.Time("due", due))
	}
}

// apply performs the same intent mutations a user gesture would.
func (r *Runner) apply(ctx context.Context, def Routine) error {
	switch def.Action {
	case "play":
		if def.Selection != "" {
			if err := r.intents.Select(ctx, def.Source, def.Selection); err != nil {
				return err
			}
		} else if err := r.intents.SetActiveSource(ctx, def.Source); err != nil {
			return err
		}
		if def.Volume != nil {
			if err := r.intents.SetVolume(ctx, def.Source, *def.Volume); err != nil {
				return err
			}
		}
		return r.intents.SetTransport(ctx, intent.TransportPlaying)
	case "pause":
		return r.intents.SetTransport(ctx, intent.TransportPaused)
	case "stop":
		return r.intents.SetTransport(ctx, intent.TransportStopped)
	}
	return nil
}
