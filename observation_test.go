package racetrack_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"
	racetrack "github.com/zetetos/racetrack-env"
	"github.com/zetetos/racetrack-env/internal/sensors"
	"github.com/zetetos/racetrack-env/pkg/models"
)

type ObservationTestSuite struct {
	suite.Suite
}

func TestObservationTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(ObservationTestSuite))
}

func fullReading() sensors.Reading {
	return sensors.Reading{
		sensors.Left:          3.5,
		sensors.Right:         30,
		sensors.Forward:       1000,
		sensors.ForwardLeft1:  10,
		sensors.ForwardLeft2:  5,
		sensors.ForwardRight1: 20,
		sensors.ForwardRight2: 2,
		sensors.Downward:      0.3,
	}
}

func (suite *ObservationTestSuite) TestRayFeatureName() {
	suite.Equal("rayLengthForwardLeft1", racetrack.RayFeatureName(sensors.ForwardLeft1))
	suite.Equal("rayLengthDownward", racetrack.RayFeatureName(sensors.Downward))
}

func (suite *ObservationTestSuite) TestBuildScalesFeatures() {
	// Arrange
	features := []string{
		"percentOfTrackCompleted", "carSpeed", "left", "right",
		"rayLengthLeft", "rayLengthRight", "rayLengthForward",
		"rayLengthForwardLeft2", "rayLengthForwardRight2", "rayLengthDownward",
	}
	schema, err := racetrack.NewObservationSchema(features, len(features), 2, sensors.DefaultDirections())
	suite.Require().NoError(err)

	// Act
	obs, err := schema.Build(25, 0.2, models.Controls{Up: true, Left: true}, fullReading())

	// Assert
	suite.Require().NoError(err)
	suite.Equal(features, obs.Names)
	suite.InDeltaSlice([]float64{0.25, 2, 1, 0, 0.175, 1, 1, 0.25, 0.1, 0.06}, obs.Values, 1e-9)
	suite.Equal(2, schema.Version)
}

func (suite *ObservationTestSuite) TestEncodesInSchemaOrder() {
	// Arrange
	features := []string{"rayLengthRight", "percentOfTrackCompleted", "carSpeed"}
	schema, err := racetrack.NewObservationSchema(features, 3, 1, sensors.DefaultDirections())
	suite.Require().NoError(err)
	obs, err := schema.Build(50, 0.1, models.Controls{}, fullReading())
	suite.Require().NoError(err)

	// Act
	data, err := json.Marshal(obs)

	// Assert
	suite.Require().NoError(err)
	suite.JSONEq(`{"rayLengthRight":1,"percentOfTrackCompleted":0.5,"carSpeed":1}`, string(data))
	suite.Equal(`{"rayLengthRight":1,"percentOfTrackCompleted":0.5,"carSpeed":1}`, string(data))
}

func (suite *ObservationTestSuite) TestSchemaErrors() {
	tests := []struct {
		name       string
		features   []string
		stateSpace int
		wantErr    error
	}{
		{name: "unknown feature", features: []string{"carSpeed", "rayLengthBackward"}, stateSpace: 2, wantErr: racetrack.ErrUnknownFeature},
		{name: "length mismatch", features: []string{"carSpeed"}, stateSpace: 2, wantErr: racetrack.ErrObservationLength},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			// Act
			_, err := racetrack.NewObservationSchema(tt.features, tt.stateSpace, 1, sensors.DefaultDirections())

			// Assert
			suite.ErrorIs(err, tt.wantErr)
		})
	}
}

func (suite *ObservationTestSuite) TestMissingSensorIsAnError() {
	// Arrange
	schema, err := racetrack.NewObservationSchema([]string{"rayLengthLeft"}, 1, 1, sensors.DefaultDirections())
	suite.Require().NoError(err)

	// Act
	_, err = schema.Build(0, 0, models.Controls{}, sensors.Reading{})

	// Assert
	suite.ErrorIs(err, racetrack.ErrMissingSensor)
}
