// Package episode implements the lifecycle of a single track attempt: idle on
// the spawn platform, a short countdown once the vehicle drops onto the track,
// the running phase with its termination checks, and the externally driven
// pause used while the decision service trains.
package episode

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"
	"github.com/zetetos/racetrack-env/internal/sensors"
	"github.com/zetetos/racetrack-env/internal/timeutil"
	"github.com/zetetos/racetrack-env/pkg/models"
)

// Death reasons reported on Transition.Reason.
const (
	ReasonSensor   = "sensor"
	ReasonAltitude = "altitude"
)

// Config holds the tunable thresholds of the state machine.
type Config struct {
	// StartAltitude is the height at or below which the vehicle is considered
	// to have left the spawn platform.
	StartAltitude  float64
	CountdownDelay time.Duration
	// DeathAltitude is the fallen-off-world height.
	DeathAltitude     float64
	SensorTolerance   float64
	StagnationSpeed   float64
	StagnationTimeout time.Duration
	// CallCadence is the number of running ticks between decision requests.
	CallCadence     int
	ExcludedSensors []string
}

// DefaultConfig returns the thresholds used by the racetrack profiles.
func DefaultConfig() Config {
	return Config{
		StartAltitude:     36,
		CountdownDelay:    100 * time.Millisecond,
		DeathAltitude:     34,
		SensorTolerance:   0.8,
		StagnationSpeed:   0.001,
		StagnationTimeout: 5 * time.Second,
		CallCadence:       15,
		ExcludedSensors:   []string{sensors.Downward},
	}
}

// Input is the per-tick observation of the world.
type Input struct {
	Position         mgl64.Vec3
	Speed            float64
	PercentCompleted float64
	Reading          sensors.Reading
}

// Transition describes the effect of one evaluation.
type Transition struct {
	From    models.Phase
	To      models.Phase
	Outcome models.Outcome
	Reason  string
	// RequestDecision is set on cadence ticks while running.
	RequestDecision bool
	// Reset is set whenever the vehicle must be returned to spawn.
	Reset bool
	// Generation is the episode generation after the transition.
	Generation uint64
	// Elapsed is the running time at the moment of evaluation.
	Elapsed time.Duration
	// Ticks is the number of running ticks evaluated so far in the episode.
	Ticks int
}

// Episode is a read-only view of the machine state.
type Episode struct {
	Phase       models.Phase
	StartedAt   time.Time
	TickCount   int
	Outcome     models.Outcome
	Generation  uint64
	CountdownAt time.Time
}

// Machine is the episode state machine. It is not safe for concurrent use; the
// environment loop owns it.
type Machine struct {
	cfg   Config
	clock timeutil.Clock
	log   zerolog.Logger

	phase       models.Phase
	startedAt   time.Time
	countdownAt time.Time
	tickCount   int
	outcome     models.Outcome
	generation  uint64
}

// NewMachine creates a machine in the idle phase.
func NewMachine(cfg Config, clock timeutil.Clock, log zerolog.Logger) *Machine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	if cfg.CallCadence <= 0 {
		cfg.CallCadence = DefaultConfig().CallCadence
	}

	return &Machine{
		cfg:   cfg,
		clock: clock,
		log:   log,
		phase: models.PhaseIdle,
	}
}

// Config returns the machine thresholds.
func (m *Machine) Config() Config {
	return m.cfg
}

// Phase returns the current phase.
func (m *Machine) Phase() models.Phase {
	return m.phase
}

// Generation identifies the current episode. It changes on every reset and
// pause.
func (m *Machine) Generation() uint64 {
	return m.generation
}

// Episode returns a snapshot of the lifecycle state.
func (m *Machine) Episode() Episode {
	return Episode{
		Phase:       m.phase,
		StartedAt:   m.startedAt,
		TickCount:   m.tickCount,
		Outcome:     m.outcome,
		Generation:  m.generation,
		CountdownAt: m.countdownAt,
	}
}

// Elapsed returns the time since the running phase began, or zero.
func (m *Machine) Elapsed() time.Duration {
	if m.phase != models.PhaseRunning || m.startedAt.IsZero() {
		return 0
	}

	return m.clock.Since(m.startedAt)
}

// CheckCountdown starts the running phase once the countdown delay has
// elapsed. It needs no world input and may be called from a timer.
func (m *Machine) CheckCountdown() bool {
	if m.phase != models.PhaseCountdown {
		return false
	}

	now := m.clock.Now()
	if now.Sub(m.countdownAt) < m.cfg.CountdownDelay {
		return false
	}

	m.phase = models.PhaseRunning
	m.startedAt = now
	m.tickCount = 0
	m.outcome = models.OutcomeNone

	m.log.Info().Uint64("generation", m.generation).Msg("episode started")

	return true
}

// Evaluate advances the machine by one tick.
func (m *Machine) Evaluate(in Input) Transition {
	tr := Transition{From: m.phase}

	switch m.phase {
	case models.PhasePaused:
	case models.PhaseIdle:
		if in.Position.Z() <= m.cfg.StartAltitude {
			m.phase = models.PhaseCountdown
			m.countdownAt = m.clock.Now()
			m.log.Debug().Float64("z", in.Position.Z()).Msg("countdown started")
			m.CheckCountdown()
		}
	case models.PhaseCountdown:
		m.CheckCountdown()
	case models.PhaseRunning:
		m.tickCount++
		tr.Elapsed = m.clock.Since(m.startedAt)
		tr.Ticks = m.tickCount

		if outcome, reason := m.terminalOutcome(in); outcome.Terminal() {
			tr.Outcome = outcome
			tr.Reason = reason
			tr.Reset = true

			m.log.Info().
				Str("outcome", outcome.String()).
				Str("reason", reason).
				Float64("percent", in.PercentCompleted).
				Dur("elapsed", tr.Elapsed).
				Int("ticks", m.tickCount).
				Msg("episode ended")

			m.reset(outcome)
		} else if m.tickCount%m.cfg.CallCadence == 0 {
			tr.RequestDecision = true
		}
	}

	tr.To = m.phase
	tr.Generation = m.generation

	return tr
}

// terminalOutcome runs the win, death and stagnation checks in that order.
func (m *Machine) terminalOutcome(in Input) (models.Outcome, string) {
	if in.PercentCompleted >= 100 {
		return models.OutcomeWin, ""
	}

	if closest, ok := in.Reading.MinExcluding(m.cfg.ExcludedSensors...); ok && closest <= m.cfg.SensorTolerance {
		return models.OutcomeDeath, ReasonSensor
	}

	if in.Position.Z() <= m.cfg.DeathAltitude {
		return models.OutcomeDeath, ReasonAltitude
	}

	// a slow tick counts only once the episode has run past the timeout
	if in.Speed < m.cfg.StagnationSpeed && m.clock.Since(m.startedAt) >= m.cfg.StagnationTimeout {
		return models.OutcomeStagnation, ""
	}

	return models.OutcomeNone, ""
}

// Pause suspends the episode. The episode is reset and no checks run until
// Resume.
func (m *Machine) Pause() {
	if m.phase == models.PhasePaused {
		return
	}

	m.reset(models.OutcomeNone)
	m.phase = models.PhasePaused

	m.log.Info().Uint64("generation", m.generation).Msg("episode paused")
}

// Resume leaves the paused phase. The vehicle is back on spawn so the machine
// waits in idle for the next drop.
func (m *Machine) Resume() bool {
	if m.phase != models.PhasePaused {
		return false
	}

	m.phase = models.PhaseIdle

	m.log.Info().Uint64("generation", m.generation).Msg("episode resumed")

	return true
}

// Reset returns the machine to idle and starts a new generation.
func (m *Machine) Reset() {
	m.reset(models.OutcomeNone)
}

func (m *Machine) reset(outcome models.Outcome) {
	m.phase = models.PhaseIdle
	m.outcome = outcome
	m.startedAt = time.Time{}
	m.countdownAt = time.Time{}
	m.tickCount = 0
	m.generation++
}
