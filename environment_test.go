package racetrack_test

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
	racetrack "github.com/zetetos/racetrack-env"
	"github.com/zetetos/racetrack-env/internal/decision"
	"github.com/zetetos/racetrack-env/internal/timeutil"
	"github.com/zetetos/racetrack-env/pkg/models"
	"github.com/zetetos/racetrack-env/pkg/profiles"
)

type EnvironmentTestSuite struct {
	suite.Suite
	clock   *timeutil.MockClock
	decider *fakeDecider
	env     *racetrack.Environment
	ended   []racetrack.EpisodeResult
}

func TestEnvironmentTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(EnvironmentTestSuite))
}

func (suite *EnvironmentTestSuite) SetupTest() {
	suite.env = suite.newEnvironment("ppo-v2")
}

func (suite *EnvironmentTestSuite) newEnvironment(profileID string) *racetrack.Environment {
	db, err := profiles.NewDB(nil)
	suite.Require().NoError(err)
	profile, err := db.GetProfileByID(profileID)
	suite.Require().NoError(err)

	suite.clock = timeutil.NewMockClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	suite.decider = newFakeDecider()
	suite.ended = nil

	logger := zerolog.Nop()
	env, err := racetrack.New(racetrack.Options{
		Logger:       &logger,
		Track:        straightTrack(),
		Profile:      profile,
		Decider:      suite.decider,
		Clock:        suite.clock,
		AgentID:      "agent-1",
		OnEpisodeEnd: func(r racetrack.EpisodeResult) { suite.ended = append(suite.ended, r) },
	})
	suite.Require().NoError(err)

	return env
}

func onTrack(x, y float64) models.Snapshot {
	return models.Snapshot{Position: models.Coordinate{X: x, Y: y, Z: 36.3}, Speed: 0.1}
}

func (suite *EnvironmentTestSuite) step(snap models.Snapshot) racetrack.Output {
	out, err := suite.env.Step(snap)
	suite.Require().NoError(err)

	return out
}

func (suite *EnvironmentTestSuite) startRunning() {
	suite.step(onTrack(5, 0))
	suite.Require().Equal(models.PhaseCountdown, suite.env.Phase())

	suite.clock.Advance(100 * time.Millisecond)
	suite.step(onTrack(5, 0))
	suite.Require().Equal(models.PhaseRunning, suite.env.Phase())
}

func (suite *EnvironmentTestSuite) TestIdleUntilVehicleDrops() {
	// Act
	out := suite.step(models.Snapshot{Position: models.Coordinate{X: 0, Y: 0, Z: 40}})

	// Assert
	suite.Equal(models.PhaseIdle, out.Phase)
	suite.False(out.Reset)
	suite.Empty(suite.decider.Requests())
}

func (suite *EnvironmentTestSuite) TestCadenceRequest() {
	// Arrange
	suite.startRunning()

	for range 14 {
		suite.step(onTrack(5, 0))
	}

	suite.Require().Empty(suite.decider.Requests())

	// Act
	suite.clock.Advance(250 * time.Millisecond)
	out := suite.step(onTrack(5, 0))

	// Assert
	requests := suite.decider.Requests()
	suite.Require().Len(requests, 1)
	req := requests[0]
	suite.Equal("agent-1", req.AgentID)
	suite.Equal(uint64(1), req.Seq)
	suite.Equal(suite.env.Generation(), req.Generation)
	suite.False(req.Done)
	suite.Equal(250*time.Millisecond, req.Elapsed)
	suite.Equal(12, req.Observation.Len())
	suite.Equal(req.Observation, out.Observation)

	percent, ok := req.Observation.Get("percentOfTrackCompleted")
	suite.True(ok)
	suite.InDelta(0.05, percent, 1e-9)

	left, ok := req.Observation.Get("rayLengthLeft")
	suite.True(ok)
	suite.InDelta(0.2, left, 1e-9)
	suite.Equal(1, suite.env.Stats().RequestsSent)
}

func (suite *EnvironmentTestSuite) TestDroppedRequestsAreCounted() {
	// Arrange
	suite.decider.reject = true
	suite.startRunning()

	// Act
	for range 15 {
		suite.step(onTrack(5, 0))
	}

	// Assert
	suite.Equal(1, suite.env.Stats().RequestsDropped)
	suite.Equal(0, suite.env.Stats().RequestsSent)
}

func (suite *EnvironmentTestSuite) TestActionResponseApplied() {
	// Arrange
	suite.startRunning()
	suite.decider.push(decision.Response{
		Kind:       decision.KindAction,
		Generation: suite.env.Generation(),
		Action:     map[string]bool{"up": true, "left": true},
	})

	// Act
	out := suite.step(onTrack(5, 0))

	// Assert
	suite.True(out.Controls.Up)
	suite.True(out.Controls.Left)
	suite.False(out.Controls.Boost)
	suite.Equal(1, suite.env.Stats().ResponsesApplied)
}

func (suite *EnvironmentTestSuite) TestListedControlMissingFromActionIsReleased() {
	// Arrange
	suite.startRunning()
	generation := suite.env.Generation()
	suite.decider.push(decision.Response{Kind: decision.KindAction, Generation: generation, Action: map[string]bool{"up": true, "boost": true}})
	suite.step(onTrack(5, 0))
	suite.decider.push(decision.Response{Kind: decision.KindAction, Generation: generation, Action: map[string]bool{"left": true}})

	// Act
	out := suite.step(onTrack(5, 0))

	// Assert
	suite.Equal(models.Controls{Left: true}, out.Controls)
}

func (suite *EnvironmentTestSuite) TestStaleActionDiscarded() {
	// Arrange
	suite.startRunning()
	suite.decider.push(decision.Response{
		Kind:       decision.KindAction,
		Generation: suite.env.Generation() + 1,
		Action:     map[string]bool{"up": true},
	})

	// Act
	out := suite.step(onTrack(5, 0))

	// Assert
	suite.False(out.Controls.Up)
	suite.Equal(1, suite.env.Stats().ResponsesStale)
}

func (suite *EnvironmentTestSuite) TestWinSendsTerminalRequestAndResets() {
	// Arrange
	suite.startRunning()
	generation := suite.env.Generation()
	suite.clock.Advance(3 * time.Second)

	// Act
	out := suite.step(onTrack(100, 0))

	// Assert
	suite.True(out.Reset)
	suite.Equal(models.OutcomeWin, out.Outcome)
	suite.Equal(models.Coordinate{X: 0, Y: 0, Z: 40}, out.Spawn)
	suite.Equal("win", out.Display.Outcome)
	suite.Equal(models.PhaseIdle, suite.env.Phase())
	suite.Equal(generation+1, suite.env.Generation())

	requests := suite.decider.Requests()
	suite.Require().Len(requests, 1)
	suite.True(requests[0].Done)
	suite.True(requests[0].Win)
	suite.Equal(generation, requests[0].Generation)
	suite.Equal(3*time.Second, requests[0].Elapsed)

	suite.Require().Len(suite.ended, 1)
	suite.Equal(models.OutcomeWin, suite.ended[0].Outcome)
	suite.Equal("straight", suite.ended[0].TrackID)
	suite.Equal("ppo-v2", suite.ended[0].ProfileID)
	suite.InDelta(100, suite.ended[0].PercentCompleted, 1e-9)
	suite.Equal(1, suite.env.Stats().Wins)
}

func (suite *EnvironmentTestSuite) TestSensorDeath() {
	// Arrange
	suite.startRunning()

	// Act
	out := suite.step(onTrack(5, 3.5))

	// Assert
	suite.Equal(models.OutcomeDeath, out.Outcome)
	suite.True(out.Reset)
	suite.Require().Len(suite.ended, 1)
	suite.Equal("sensor", suite.ended[0].Reason)
	suite.False(suite.decider.Requests()[0].Win)
}

func (suite *EnvironmentTestSuite) TestAltitudeDeath() {
	// Arrange
	suite.startRunning()

	// Act
	out := suite.step(models.Snapshot{Position: models.Coordinate{X: 5, Y: 0, Z: 33}, Speed: 0.2})

	// Assert
	suite.Equal(models.OutcomeDeath, out.Outcome)
	suite.Require().Len(suite.ended, 1)
	suite.Equal("altitude", suite.ended[0].Reason)
}

func (suite *EnvironmentTestSuite) TestStagnation() {
	// Arrange
	suite.startRunning()
	still := onTrack(5, 0)
	still.Speed = 0

	// Act
	suite.step(still)
	suite.clock.Advance(5 * time.Second)
	out := suite.step(still)

	// Assert
	suite.Equal(models.OutcomeStagnation, out.Outcome)
	suite.Equal(1, suite.env.Stats().Stagnations)
}

func (suite *EnvironmentTestSuite) TestPauseAndResume() {
	// Arrange
	suite.startRunning()
	suite.decider.push(decision.Response{Kind: decision.KindAction, Generation: suite.env.Generation(), Action: map[string]bool{"up": true}})
	suite.step(onTrack(5, 0))
	suite.decider.push(decision.Response{Kind: decision.KindPause})

	// Act
	paused := suite.step(onTrack(5, 0))
	for range 30 {
		suite.step(onTrack(5, 0))
	}

	suite.decider.push(decision.Response{Kind: decision.KindResume})
	resumed := suite.step(models.Snapshot{Position: models.Coordinate{Z: 40}})

	// Assert
	suite.True(paused.Reset)
	suite.Equal(models.PhasePaused, paused.Phase)
	suite.Equal(models.Controls{}, paused.Controls)
	suite.Empty(suite.decider.Requests())
	suite.Equal(models.PhaseIdle, resumed.Phase)
	suite.Equal(1, suite.env.Stats().Pauses)
}

func (suite *EnvironmentTestSuite) TestConstantControlsWhileRunning() {
	// Arrange
	suite.env = suite.newEnvironment("steer-only")

	// Act
	idle := suite.step(onTrack(5, 0))
	suite.clock.Advance(100 * time.Millisecond)
	running := suite.step(onTrack(5, 0))

	// Assert
	suite.False(idle.Controls.Up)
	suite.True(running.Controls.Up)
}

func (suite *EnvironmentTestSuite) TestDisplayUpdate() {
	// Arrange
	suite.startRunning()
	suite.clock.Advance(1500 * time.Millisecond)

	// Act
	out := suite.step(models.Snapshot{Position: models.Coordinate{X: 50, Y: 0, Z: 36.3}, Speed: 0.1, Heading: math.Pi / 2})

	// Assert
	suite.InDelta(50, out.Display.PercentCompleted, 1e-9)
	suite.Equal(int64(1500), out.Display.ElapsedMs)
	suite.Equal("1.50", out.Display.Timer())
	suite.Equal("running", out.Display.Phase)
	suite.InDelta(21.6, out.Display.SpeedKPH, 1e-9)
	suite.InDelta(90, out.Display.HeadingDegrees, 1e-9)
}

func (suite *EnvironmentTestSuite) TestDefaultsAndValidation() {
	// Arrange
	logger := zerolog.Nop()

	// Act
	env, err := racetrack.New(racetrack.Options{Logger: &logger, Decider: newFakeDecider()})
	_, noDecider := racetrack.New(racetrack.Options{Logger: &logger})

	// Assert
	suite.Require().NoError(err)
	suite.Equal("fjc-racetrack", env.Track().ID)
	suite.Equal(racetrack.DefaultProfile, env.Profile().ID)
	suite.Len(env.Schema().Names(), 12)
	suite.NotNil(env.Meshes())
	suite.NotEmpty(env.AgentID())

	spawn, heading := env.Spawn()
	suite.Equal(models.Coordinate{X: 0, Y: 0, Z: 40}, spawn)
	suite.InDelta(math.Atan2(-23, -1), heading, 1e-9)

	suite.ErrorIs(noDecider, racetrack.ErrNoDecider)
}

func (suite *EnvironmentTestSuite) TestUnknownFeatureIsFatal() {
	// Arrange
	logger := zerolog.Nop()
	profile := profiles.Profile{
		ID:             "broken",
		StateSpace:     2,
		Features:       []string{"carSpeed", "rayLengthBackward"},
		ActionsList:    []string{"up"},
		ActionMappings: map[string]map[string]bool{"0": {"up": true}},
		CallCadence:    15,
	}

	// Act
	_, err := racetrack.New(racetrack.Options{Logger: &logger, Decider: newFakeDecider(), Track: straightTrack(), Profile: profile})

	// Assert
	suite.ErrorIs(err, racetrack.ErrUnknownFeature)
}
