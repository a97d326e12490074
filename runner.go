package racetrack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zetetos/racetrack-env/internal/display"
	"github.com/zetetos/racetrack-env/internal/physics"
	"github.com/zetetos/racetrack-env/internal/reader"
	"github.com/zetetos/racetrack-env/internal/timeutil"
)

// TickRate is the simulation rate in ticks per second.
const TickRate = 60

// TickInterval is the duration of one simulation tick.
const TickInterval = time.Second / TickRate

// DefaultSettleDelay holds gravity at zero after the first spawn.
const DefaultSettleDelay = 2 * time.Second

var ErrRunnerConfig = errors.New("runner needs an environment and a physics provider")

type RunnerOptions struct {
	Environment *Environment
	Physics     physics.Provider
	Display     display.Sink
	Clock       timeutil.Clock
	Logger      *zerolog.Logger
	// SettleDelay defaults to the profile's delay. Negative disables it.
	SettleDelay time.Duration
	// MaxTicks stops Run after the given number of ticks when positive.
	MaxTicks int
}

// Runner drives an Environment at a fixed rate against a physics provider.
type Runner struct {
	env         *Environment
	physics     physics.Provider
	sink        display.Sink
	clock       timeutil.Clock
	log         zerolog.Logger
	settleDelay time.Duration
	maxTicks    int
	recorder    reader.Recorder

	mu          sync.Mutex
	started     bool
	gravityAt   time.Time
	gravityLive bool
	ticks       int
	Finished    bool
}

func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Environment == nil || opts.Physics == nil {
		return nil, ErrRunnerConfig
	}

	var log zerolog.Logger
	if opts.Logger != nil {
		log = *opts.Logger
	} else {
		log = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}

	switch {
	case opts.SettleDelay == 0:
		opts.SettleDelay = opts.Environment.Profile().SettleDelay()
		if opts.SettleDelay == 0 {
			opts.SettleDelay = DefaultSettleDelay
		}
	case opts.SettleDelay < 0:
		opts.SettleDelay = 0
	}

	return &Runner{
		env:         opts.Environment,
		physics:     opts.Physics,
		sink:        opts.Display,
		clock:       opts.Clock,
		log:         log,
		settleDelay: opts.SettleDelay,
		maxTicks:    opts.MaxTicks,
	}, nil
}

// Run ticks until ctx is cancelled, the physics source ends, MaxTicks is
// reached or the environment reports a fatal error. A recoverable error means
// Run may be called again.
func (r *Runner) Run(ctx context.Context) (err error, recoverable bool) {
	ticker := r.clock.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err(), false
		case <-ticker.C():
		}

		if err, recoverable := r.Tick(); err != nil {
			if errors.Is(err, io.EOF) {
				r.mu.Lock()
				r.Finished = true
				r.mu.Unlock()

				r.log.Info().Int("ticks", r.Ticks()).Msg("physics source finished")

				return nil, false
			}

			return err, recoverable
		}

		if r.maxTicks > 0 && r.Ticks() >= r.maxTicks {
			return nil, false
		}
	}
}

// Tick advances physics and the environment by one tick.
func (r *Runner) Tick() (err error, recoverable bool) {
	r.start()

	snap, err := r.physics.Step(TickInterval)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return err, false
		}

		return fmt.Errorf("step physics: %w", err), true
	}

	if err := r.recorder.Write(snap); err != nil {
		r.log.Error().Err(err).Msg("failed to record snapshot")
	}

	out, err := r.env.Step(snap)
	if err != nil {
		return fmt.Errorf("step environment: %w", err), false
	}

	r.physics.SetControls(out.Controls)

	if out.Reset {
		r.physics.Recreate(out.Spawn, out.SpawnHeading)
	}

	r.applyGravity(out.Gravity)

	if err := display.SafePush(r.sink, out.Display); err != nil {
		r.log.Warn().Err(err).Msg("display update failed")
	}

	r.mu.Lock()
	r.ticks++
	r.mu.Unlock()

	return nil, false
}

// start places the first vehicle and holds it in the air while the decision
// service settles.
func (r *Runner) start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}

	r.started = true
	spawn, heading := r.env.Spawn()
	r.physics.Recreate(spawn, heading)
	r.physics.SetGravity(0)
	r.gravityAt = r.clock.Now().Add(r.settleDelay)

	r.log.Debug().Stringer("spawn", spawn).Dur("settle", r.settleDelay).Msg("vehicle created")
}

func (r *Runner) applyGravity(z float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gravityLive || r.clock.Now().Before(r.gravityAt) {
		return
	}

	r.gravityLive = true
	r.physics.SetGravity(z)

	r.log.Debug().Float64("gravity_z", z).Msg("gravity enabled")
}

// Ticks returns the number of completed ticks.
func (r *Runner) Ticks() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.ticks
}

// StartRecording writes every physics snapshot to path. The .trz extension
// selects gzip compression, .trr raw records.
func (r *Runner) StartRecording(path string) error {
	if err := r.recorder.StartRecording(path); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}

	r.log.Info().Str("path", path).Msg("recording started")

	return nil
}

func (r *Runner) StopRecording() error {
	written, err := r.recorder.StopRecording()
	if err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}

	r.log.Info().Int("snapshots", written).Msg("recording stopped")

	return nil
}

func (r *Runner) IsRecording() bool {
	return r.recorder.IsRecording()
}
