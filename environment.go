// Package racetrack runs the episodic track-following environment: progress
// tracking along the track centre line, sensor casting, the episode state
// machine and the exchange of observations for actions with a decision maker.
package racetrack

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zetetos/racetrack-env/internal/decision"
	"github.com/zetetos/racetrack-env/internal/display"
	"github.com/zetetos/racetrack-env/internal/episode"
	"github.com/zetetos/racetrack-env/internal/geometry"
	"github.com/zetetos/racetrack-env/internal/polyline"
	"github.com/zetetos/racetrack-env/internal/sensors"
	"github.com/zetetos/racetrack-env/internal/timeutil"
	"github.com/zetetos/racetrack-env/internal/units"
	"github.com/zetetos/racetrack-env/pkg/models"
	"github.com/zetetos/racetrack-env/pkg/profiles"
	"github.com/zetetos/racetrack-env/pkg/tracks"
)

// DefaultProfile is used when Options carries no profile.
const DefaultProfile = "ppo-v2"

var ErrNoDecider = errors.New("no decider configured")

// Statistics counts decision traffic and episode outcomes.
type Statistics struct {
	Ticks            int
	RequestsSent     int
	RequestsDropped  int
	ResponsesApplied int
	ResponsesStale   int
	ResponseErrors   int
	Episodes         int
	Wins             int
	Deaths           int
	Stagnations      int
	Pauses           int
}

// EpisodeResult describes a finished episode.
type EpisodeResult struct {
	AgentID          string
	TrackID          string
	ProfileID        string
	Generation       uint64
	Outcome          models.Outcome
	Reason           string
	PercentCompleted float64
	Elapsed          time.Duration
	Ticks            int
	EndedAt          time.Time
}

type Options struct {
	LogLevel string
	Logger   *zerolog.Logger
	Track    tracks.Track
	Profile  profiles.Profile
	Decider  decision.Decider
	// Raycaster answers sensor queries. When nil, wall and ground meshes are
	// built from the track.
	Raycaster    sensors.Raycaster
	Visualizer   sensors.Visualizer
	Clock        timeutil.Clock
	AgentID      string
	OnEpisodeEnd func(EpisodeResult)
}

// Output is the effect of one Step on the outside world.
type Output struct {
	Controls models.Controls
	Display  display.Update
	// Reset asks the physics provider for a fresh vehicle at Spawn.
	Reset        bool
	Spawn        models.Coordinate
	SpawnHeading float64
	Gravity      float64
	Phase        models.Phase
	Outcome      models.Outcome
	// Observation is set on ticks that raised a decision request.
	Observation decision.Observation
}

// Environment is driven one tick at a time by Step. It is not safe for
// concurrent use apart from Stats.
type Environment struct {
	log          zerolog.Logger
	track        tracks.Track
	profile      profiles.Profile
	clock        timeutil.Clock
	decider      decision.Decider
	agentID      string
	tracker      *polyline.Tracker
	sensors      *sensors.Array
	meshes       *geometry.TrackMeshes
	machine      *episode.Machine
	schema       *ObservationSchema
	spawnHeading float64
	onEpisodeEnd func(EpisodeResult)

	controls models.Controls
	seq      uint64

	statsMu sync.Mutex
	stats   Statistics
}

func New(opts Options) (*Environment, error) {
	var log zerolog.Logger
	if opts.Logger != nil {
		log = *opts.Logger
	} else {
		log = zerolog.New(os.Stdout).With().Timestamp().Logger()

		switch opts.LogLevel {
		case "trace":
			zerolog.SetGlobalLevel(zerolog.TraceLevel)
		case "debug":
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		case "info":
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		case "warn":
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		case "error":
			zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		case "fatal":
			zerolog.SetGlobalLevel(zerolog.FatalLevel)
		case "panic":
			zerolog.SetGlobalLevel(zerolog.PanicLevel)
		case "off":
			zerolog.SetGlobalLevel(zerolog.Disabled)
		case "":
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		default:
			log.Warn().Str("log_level", opts.LogLevel).Msg("unknown log level, setting level to warn")
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		}
	}

	if opts.Decider == nil {
		return nil, ErrNoDecider
	}

	if len(opts.Track.Waypoints) == 0 {
		db, err := tracks.NewDB(nil)
		if err != nil {
			return nil, fmt.Errorf("load track inventory: %w", err)
		}

		if opts.Track, err = db.GetDefaultTrack(); err != nil {
			return nil, fmt.Errorf("load default track: %w", err)
		}
	}

	if opts.Profile.StateSpace == 0 {
		db, err := profiles.NewDB(nil)
		if err != nil {
			return nil, fmt.Errorf("load profile inventory: %w", err)
		}

		if opts.Profile, err = db.GetProfileByID(DefaultProfile); err != nil {
			return nil, fmt.Errorf("load default profile: %w", err)
		}
	}

	if err := opts.Profile.Check(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", opts.Profile.ID, err)
	}

	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}

	waypoints := opts.Track.Vecs()

	tracker, err := polyline.NewTracker(waypoints)
	if err != nil {
		return nil, fmt.Errorf("track %s: %w", opts.Track.ID, err)
	}

	env := &Environment{
		log:          log.With().Str("track", opts.Track.ID).Str("profile", opts.Profile.ID).Logger(),
		track:        opts.Track,
		profile:      opts.Profile,
		clock:        opts.Clock,
		decider:      opts.Decider,
		tracker:      tracker,
		onEpisodeEnd: opts.OnEpisodeEnd,
		spawnHeading: math.Atan2(waypoints[1][1]-waypoints[0][1], waypoints[1][0]-waypoints[0][0]),
	}

	raycaster := opts.Raycaster
	if raycaster == nil {
		if env.meshes, err = geometry.BuildTrackMeshes(waypoints, opts.Track.HalfWidth, opts.Track.WallHeight); err != nil {
			return nil, fmt.Errorf("track %s: %w", opts.Track.ID, err)
		}

		raycaster = env.meshes
	}

	var sensorOpts []sensors.Option
	if opts.Visualizer != nil {
		sensorOpts = append(sensorOpts, sensors.WithVisualizer(opts.Visualizer))
	}

	env.sensors = sensors.NewArray(sensors.DefaultDirections(), raycaster, sensorOpts...)

	env.schema, err = NewObservationSchema(opts.Profile.Features, opts.Profile.StateSpace, opts.Profile.Version, env.sensors.Directions())
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", opts.Profile.ID, err)
	}

	env.machine = episode.NewMachine(episode.Config{
		StartAltitude:     opts.Track.StartAltitude,
		CountdownDelay:    opts.Profile.CountdownDelay(),
		DeathAltitude:     opts.Track.DeathAltitude,
		SensorTolerance:   opts.Profile.SensorTolerance,
		StagnationSpeed:   opts.Profile.StagnationSpeed,
		StagnationTimeout: opts.Profile.StagnationTimeout(),
		CallCadence:       opts.Profile.CallCadence,
		ExcludedSensors:   []string{sensors.Downward},
	}, opts.Clock, env.log)

	env.agentID = opts.AgentID
	if env.agentID == "" {
		if named, ok := opts.Decider.(interface{ AgentID() string }); ok {
			env.agentID = named.AgentID()
		} else {
			env.agentID = uuid.NewString()
		}
	}

	return env, nil
}

// AgentID returns the identifier sent with every decision request.
func (e *Environment) AgentID() string { return e.agentID }

func (e *Environment) Track() tracks.Track { return e.track }

func (e *Environment) Profile() profiles.Profile { return e.profile }

// Meshes returns the track meshes built by New, or nil when a raycaster was
// supplied.
func (e *Environment) Meshes() *geometry.TrackMeshes { return e.meshes }

func (e *Environment) Schema() *ObservationSchema { return e.schema }

func (e *Environment) Phase() models.Phase { return e.machine.Phase() }

func (e *Environment) Generation() uint64 { return e.machine.Generation() }

// Spawn returns the spawn point and the heading of the first track segment.
func (e *Environment) Spawn() (models.Coordinate, float64) {
	return e.track.Spawn, e.spawnHeading
}

// Stats returns a copy of the counters.
func (e *Environment) Stats() Statistics {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	return e.stats
}

func (e *Environment) count(fn func(s *Statistics)) {
	e.statsMu.Lock()
	fn(&e.stats)
	e.statsMu.Unlock()
}

// Step consumes one physics snapshot. The returned error is fatal.
func (e *Environment) Step(snap models.Snapshot) (Output, error) {
	out := Output{Gravity: e.track.GravityZ, Spawn: e.track.Spawn, SpawnHeading: e.spawnHeading}

	e.count(func(s *Statistics) { s.Ticks++ })

	if err := e.drainResponses(&out); err != nil {
		return out, err
	}

	position := snap.Position.Vec()
	progress := e.tracker.Update(position)
	reading := e.sensors.Cast(position, snap.Heading)
	generation := e.machine.Generation()

	tr := e.machine.Evaluate(episode.Input{
		Position:         position,
		Speed:            snap.Speed,
		PercentCompleted: progress.PercentCompleted,
		Reading:          reading,
	})

	if tr.From != tr.To {
		e.log.Debug().Stringer("from", tr.From).Stringer("to", tr.To).Msg("phase changed")
	}

	elapsed := e.machine.Elapsed()

	switch {
	case tr.Outcome.Terminal():
		elapsed = tr.Elapsed

		obs, err := e.schema.Build(progress.PercentCompleted, snap.Speed, e.controls, reading)
		if err != nil {
			return out, fmt.Errorf("build terminal observation: %w", err)
		}

		e.submit(decision.Request{
			Generation:  generation,
			Observation: obs,
			Done:        true,
			Win:         tr.Outcome == models.OutcomeWin,
			Elapsed:     tr.Elapsed,
		})

		e.endEpisode(tr, generation, progress.PercentCompleted)

		out.Observation = obs
		out.Reset = true
	case tr.RequestDecision:
		obs, err := e.schema.Build(progress.PercentCompleted, snap.Speed, e.controls, reading)
		if err != nil {
			return out, fmt.Errorf("build observation: %w", err)
		}

		e.submit(decision.Request{
			Generation:  tr.Generation,
			Observation: obs,
			Elapsed:     tr.Elapsed,
		})

		out.Observation = obs
	}

	switch e.machine.Phase() {
	case models.PhaseRunning:
		for name, value := range e.profile.ConstantControls {
			if err := e.controls.Set(name, value); err != nil {
				return out, fmt.Errorf("apply constant controls: %w", err)
			}
		}
	default:
		e.controls = models.Neutral()
	}

	out.Controls = e.controls
	out.Phase = e.machine.Phase()
	out.Outcome = tr.Outcome
	out.Display = display.Update{
		PercentCompleted: progress.PercentCompleted,
		Elapsed:          elapsed,
		ElapsedMs:        elapsed.Milliseconds(),
		Phase:            out.Phase.String(),
		SpeedKPH:         units.MetersPerSecondToKilometersPerHour(snap.Speed * TickRate),
		HeadingDegrees:   units.RadiansToDegrees(snap.Heading),
		Controls:         out.Controls,
	}

	if tr.Outcome.Terminal() {
		out.Display.Outcome = tr.Outcome.String()
	}

	return out, nil
}

// drainResponses applies every queued decision response without blocking.
func (e *Environment) drainResponses(out *Output) error {
	for {
		var resp decision.Response

		select {
		case r, ok := <-e.decider.Responses():
			if !ok {
				return nil
			}

			resp = r
		default:
			return nil
		}

		switch resp.Kind {
		case decision.KindPause:
			e.machine.Pause()
			e.controls = models.Neutral()
			e.tracker.Reset()
			out.Reset = true

			e.count(func(s *Statistics) { s.Pauses++ })
		case decision.KindResume:
			e.machine.Resume()
		case decision.KindError:
			e.count(func(s *Statistics) { s.ResponseErrors++ })
			e.log.Warn().Err(resp.Err).Uint64("seq", resp.Seq).Msg("decision request failed")
		case decision.KindAction:
			if resp.Generation != e.machine.Generation() || e.machine.Phase() != models.PhaseRunning {
				e.count(func(s *Statistics) { s.ResponsesStale++ })
				e.log.Debug().
					Uint64("generation", resp.Generation).
					Uint64("current", e.machine.Generation()).
					Uint64("seq", resp.Seq).
					Msg("discarding stale action")

				continue
			}

			if err := decision.ApplyAction(&e.controls, resp.Action, e.profile.ActionsList); err != nil {
				return err
			}

			e.count(func(s *Statistics) { s.ResponsesApplied++ })
		}
	}
}

func (e *Environment) submit(req decision.Request) {
	e.seq++
	req.Seq = e.seq
	req.AgentID = e.agentID

	accepted, err := e.decider.Submit(req)

	switch {
	case err != nil:
		e.count(func(s *Statistics) { s.ResponseErrors++ })
		e.log.Warn().Err(err).Uint64("seq", req.Seq).Msg("failed to submit decision request")
	case !accepted:
		e.count(func(s *Statistics) { s.RequestsDropped++ })
		e.log.Trace().Uint64("seq", req.Seq).Msg("decision request dropped, previous still in flight")
	default:
		e.count(func(s *Statistics) { s.RequestsSent++ })
	}
}

func (e *Environment) endEpisode(tr episode.Transition, generation uint64, percent float64) {
	e.controls = models.Neutral()
	e.tracker.Reset()

	e.count(func(s *Statistics) {
		s.Episodes++

		switch tr.Outcome {
		case models.OutcomeWin:
			s.Wins++
		case models.OutcomeDeath:
			s.Deaths++
		case models.OutcomeStagnation:
			s.Stagnations++
		}
	})

	if e.onEpisodeEnd == nil {
		return
	}

	e.onEpisodeEnd(EpisodeResult{
		AgentID:          e.agentID,
		TrackID:          e.track.ID,
		ProfileID:        e.profile.ID,
		Generation:       generation,
		Outcome:          tr.Outcome,
		Reason:           tr.Reason,
		PercentCompleted: percent,
		Elapsed:          tr.Elapsed,
		Ticks:            tr.Ticks,
		EndedAt:          e.clock.Now(),
	})
}

// Close releases the decider.
func (e *Environment) Close() error {
	return e.decider.Close()
}
