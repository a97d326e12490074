package tracks_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/zetetos/racetrack-env/pkg/models"
	"github.com/zetetos/racetrack-env/pkg/tracks"
)

const legacyConfigJS = `const fjcConfig = {
  debug: false,
  carStartingPosition: [0, 0, 40],
  deathPositionZ: 34,
  gravityZ: -1.7,
  pointsForLine: {
    0: { x: 0, y: 0, z: 36 },
    2: { x: -20, y: -25, z: 36 },
    1: { x: -1, y: -23, z: 36 },
  },
}

module.exports = fjcConfig;
`

type TracksTestSuite struct {
	suite.Suite
}

func TestTracksTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(TracksTestSuite))
}

func (suite *TracksTestSuite) TestEmptyJSONParameterFallsBackToBaseInventory() {
	// Act
	db, err := tracks.NewDB(nil)
	suite.Require().NoError(err)

	// Assert
	suite.Contains(db.GetAllTrackIDs(), "fjc-racetrack")

	track, err := db.GetDefaultTrack()
	suite.Require().NoError(err)
	suite.Equal("fjc-racetrack", track.ID)
	suite.Len(track.Waypoints, 18)
	suite.Equal(models.Coordinate{X: 0, Y: 0, Z: 40}, track.Spawn)
	suite.InDelta(-1.7, track.GravityZ, 1e-9)
}

func (suite *TracksTestSuite) TestInvalidJSONParameterReturnsError() {
	// Act
	_, err := tracks.NewDB([]byte(`{ not_valid_json: }`))

	// Assert
	suite.ErrorContains(err, "unmarshall track inventory JSON")
}

func (suite *TracksTestSuite) TestSchemaRejectsSingleWaypoint() {
	// Arrange
	inventoryJSON := []byte(`{
		"tracks": {
			"short": {
				"name": "Short",
				"spawn": { "x": 0, "y": 0, "z": 40 },
				"start_altitude": 36,
				"death_altitude": 34,
				"gravity_z": -1.7,
				"waypoints": [{ "x": 0, "y": 0, "z": 36 }]
			}
		}
	}`)

	// Act
	_, err := tracks.NewDB(inventoryJSON)

	// Assert
	suite.ErrorIs(err, tracks.ErrInvalidTrack)
}

func (suite *TracksTestSuite) TestGetTrackByIDAppliesDefaults() {
	// Arrange
	inventoryJSON := []byte(`{
		"tracks": {
			"test": {
				"name": "Test",
				"spawn": { "x": 1, "y": 2, "z": 40 },
				"start_altitude": 36,
				"death_altitude": 34,
				"gravity_z": -1.7,
				"waypoints": [{ "x": 0, "y": 0, "z": 36 }, { "x": 10, "y": 0, "z": 36 }]
			}
		}
	}`)
	db, err := tracks.NewDB(inventoryJSON)
	suite.Require().NoError(err)

	// Act
	track, err := db.GetTrackByID("test")

	// Assert
	suite.Require().NoError(err)
	suite.Equal("test", track.ID)
	suite.Equal(4.0, track.HalfWidth)
	suite.Equal(3.0, track.WallHeight)
	suite.Len(track.Vecs(), 2)

	_, err = db.GetTrackByID("missing")
	suite.ErrorIs(err, tracks.ErrTrackNotFound)

	_, err = db.GetDefaultTrack()
	suite.ErrorIs(err, tracks.ErrNoDefaultTrack)
}

func (suite *TracksTestSuite) TestParseJSOrdersWaypointsByKey() {
	// Act
	track, err := tracks.ParseJS("legacy", "Legacy", []byte(legacyConfigJS))

	// Assert
	suite.Require().NoError(err)
	suite.Equal([]models.Coordinate{
		{X: 0, Y: 0, Z: 36},
		{X: -1, Y: -23, Z: 36},
		{X: -20, Y: -25, Z: 36},
	}, track.Waypoints)
	suite.Equal(models.Coordinate{X: 0, Y: 0, Z: 40}, track.Spawn)
	suite.Equal(34.0, track.DeathAltitude)
	suite.Equal(36.5, track.StartAltitude)
	suite.InDelta(-1.7, track.GravityZ, 1e-9)
}

func (suite *TracksTestSuite) TestParseJSWithoutDeclarationFails() {
	// Act
	_, err := tracks.ParseJS("x", "X", []byte(`module.exports = {};`))

	// Assert
	suite.ErrorIs(err, tracks.ErrConfigVariableNotFound)
}

func (suite *TracksTestSuite) TestParseJSWithoutPointsFails() {
	// Act
	_, err := tracks.ParseJS("x", "X", []byte(`const cfg = { carStartingPosition: [0, 0, 40] };`))

	// Assert
	suite.ErrorIs(err, tracks.ErrNoWaypoints)
}

func (suite *TracksTestSuite) TestWaypointCSVRoundTrip() {
	// Arrange
	track := tracks.Track{Waypoints: []models.Coordinate{{X: 0, Y: 0, Z: 36}, {X: -1.5, Y: -23, Z: 36}}}
	var buf bytes.Buffer

	// Act
	writeErr := tracks.WriteWaypointsCSV(&buf, track)
	got, readErr := tracks.ParseWaypointsCSV(strings.NewReader(buf.String()))

	// Assert
	suite.Require().NoError(writeErr)
	suite.Require().NoError(readErr)
	suite.True(strings.HasPrefix(buf.String(), "x,y,z\n"))
	suite.Equal(track.Waypoints, got)
}

func (suite *TracksTestSuite) TestMarshalInventoryIsLoadable() {
	// Arrange
	track, err := tracks.ParseJS("legacy", "Legacy", []byte(legacyConfigJS))
	suite.Require().NoError(err)

	// Act
	data, err := tracks.MarshalInventory([]tracks.Track{track})
	suite.Require().NoError(err)
	db, err := tracks.NewDB(data)

	// Assert
	suite.Require().NoError(err)
	suite.Equal([]string{"legacy"}, db.GetAllTrackIDs())
}
