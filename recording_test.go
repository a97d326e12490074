package racetrack_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
	racetrack "github.com/zetetos/racetrack-env"
	"github.com/zetetos/racetrack-env/internal/physics"
	"github.com/zetetos/racetrack-env/internal/reader"
	"github.com/zetetos/racetrack-env/internal/timeutil"
	"github.com/zetetos/racetrack-env/pkg/models"
)

type RecordingTestSuite struct {
	suite.Suite

	runner  *racetrack.Runner
	vehicle *physics.Kinematic
	clock   *timeutil.MockClock
	tmpDir  string
}

func TestRecordingTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(RecordingTestSuite))
}

func (suite *RecordingTestSuite) SetupTest() {
	suite.tmpDir = suite.T().TempDir()
	suite.clock = timeutil.NewMockClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	logger := zerolog.Nop()
	env, err := racetrack.New(racetrack.Options{Logger: &logger, Track: straightTrack(), Decider: newFakeDecider(), Clock: suite.clock})
	suite.Require().NoError(err, "Failed to create environment")

	suite.vehicle = physics.NewKinematic(physics.DefaultKinematicConfig(), env.Meshes(), models.Coordinate{X: 5, Z: 40}, 0)

	runner, err := racetrack.NewRunner(racetrack.RunnerOptions{
		Environment: env,
		Physics:     suite.vehicle,
		Clock:       suite.clock,
		Logger:      &logger,
		SettleDelay: -1,
	})
	suite.Require().NoError(err, "Failed to create runner")
	suite.runner = runner
}

func (suite *RecordingTestSuite) TearDownTest() {
	// Make sure we stop recording if still active
	if suite.runner != nil && suite.runner.IsRecording() {
		_ = suite.runner.StopRecording()
	}
}

func (suite *RecordingTestSuite) tick(n int) {
	for range n {
		suite.clock.Advance(racetrack.TickInterval)
		err, _ := suite.runner.Tick()
		suite.Require().NoError(err)
	}
}

func (suite *RecordingTestSuite) TestStartRecording() {
	for _, name := range []string{"test_recording.trz", "test_recording.trr"} {
		// Arrange
		path := filepath.Join(suite.tmpDir, name)

		// Act
		err := suite.runner.StartRecording(path)

		// Assert
		suite.Require().NoError(err, "Failed to start recording")
		suite.True(suite.runner.IsRecording(), "IsRecording should return true after starting recording")
		suite.NoError(suite.runner.StopRecording(), "Failed to stop recording")

		_, err = os.Stat(path)
		suite.False(os.IsNotExist(err), "recording file was not created")
	}
}

func (suite *RecordingTestSuite) TestInvalidFileExtension() {
	// Act
	err := suite.runner.StartRecording(filepath.Join(suite.tmpDir, "test_recording.txt"))

	// Assert
	suite.ErrorIs(err, reader.ErrUnsupported)
	suite.False(suite.runner.IsRecording())
}

func (suite *RecordingTestSuite) TestAlreadyRecording() {
	// Arrange
	suite.Require().NoError(suite.runner.StartRecording(filepath.Join(suite.tmpDir, "first.trz")))

	// Act
	err := suite.runner.StartRecording(filepath.Join(suite.tmpDir, "second.trz"))

	// Assert
	suite.ErrorIs(err, reader.ErrRecording)
	suite.NoError(suite.runner.StopRecording())
}

func (suite *RecordingTestSuite) TestStopWhenNotRecording() {
	// Act
	err := suite.runner.StopRecording()

	// Assert
	suite.ErrorIs(err, reader.ErrNotRecording)
}

func (suite *RecordingTestSuite) TestRecordedTicksPlayBack() {
	// Arrange
	path := filepath.Join(suite.tmpDir, "drop.trz")
	suite.Require().NoError(suite.runner.StartRecording(path))

	// Act
	suite.tick(30)
	suite.Require().NoError(suite.runner.StopRecording())
	suite.tick(5)

	// Assert
	fr, err := reader.NewFileReader(path, zerolog.Nop())
	suite.Require().NoError(err)
	defer fr.Close()
	fr.Interval = 0

	var last models.Snapshot
	count := 0

	for {
		n, buf, err := fr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		suite.Require().NoError(err)

		last, err = reader.Decode(buf[:n])
		suite.Require().NoError(err)

		count++
	}

	suite.Equal(30, count)
	suite.Equal(uint32(30), last.Tick)
	suite.Less(last.Position.Z, 40.0)
	suite.Empty(cmp.Diff(models.Coordinate{X: 0, Y: 0, Z: last.Position.Z}, last.Position))
}
