package sensors_test

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/suite"
	"github.com/zetetos/racetrack-env/internal/sensors"
)

// wallRaycaster reports hits against the vertical plane x = wallX for the
// boundary surface, and the plane z = groundZ for the ground surface.
type wallRaycaster struct {
	wallX   float64
	groundZ float64
}

func (w wallRaycaster) Raycast(origin, direction mgl64.Vec3, surface sensors.Surface) (mgl64.Vec3, bool) {
	axis, plane := 0, w.wallX
	if surface == sensors.SurfaceGround {
		axis, plane = 2, w.groundZ
	}

	if math.Abs(direction[axis]) < 1e-12 {
		return mgl64.Vec3{}, false
	}

	t := (plane - origin[axis]) / direction[axis]
	if t <= 0 {
		return mgl64.Vec3{}, false
	}

	return origin.Add(direction.Mul(t)), true
}

type nanRaycaster struct{}

func (nanRaycaster) Raycast(_, _ mgl64.Vec3, _ sensors.Surface) (mgl64.Vec3, bool) {
	return mgl64.Vec3{math.NaN(), 0, 0}, true
}

type recordingVisualizer struct {
	rays map[string][2]mgl64.Vec3
}

func (r *recordingVisualizer) UpdateRay(name string, from, to mgl64.Vec3) {
	r.rays[name] = [2]mgl64.Vec3{from, to}
}

type SensorsTestSuite struct {
	suite.Suite
}

func TestSensorsTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(SensorsTestSuite))
}

func (suite *SensorsTestSuite) TestCastWithoutGeometryReturnsSentinelForEverySensor() {
	// Arrange
	array := sensors.NewArray(sensors.DefaultDirections(), nil)

	// Act
	reading := array.Cast(mgl64.Vec3{1, 2, 3}, 0.7)

	// Assert
	suite.Len(reading, 8)
	for name, distance := range reading {
		suite.False(math.IsNaN(distance), name)
		suite.Equal(sensors.DefaultSentinel, distance, name)
	}
}

func (suite *SensorsTestSuite) TestCastUsesConfiguredSentinel() {
	// Arrange
	array := sensors.NewArray(sensors.DefaultDirections(), wallRaycaster{wallX: -100, groundZ: 100}, sensors.WithSentinel(50))

	// Act
	reading := array.Cast(mgl64.Vec3{}, 0)

	// Assert
	suite.Equal(50.0, reading[sensors.Forward])
	suite.Equal(50.0, reading[sensors.Downward])
}

func (suite *SensorsTestSuite) TestCastMeasuresDistanceToBoundary() {
	// Arrange
	array := sensors.NewArray(sensors.DefaultDirections(), wallRaycaster{wallX: 10, groundZ: -2})

	// Act
	reading := array.Cast(mgl64.Vec3{0, 0, 0}, 0)

	// Assert
	suite.InDelta(10.0, reading[sensors.Forward], 1e-9)
	suite.InDelta(10/math.Cos(math.Pi/8), reading[sensors.ForwardLeft1], 1e-9)
	suite.InDelta(10*math.Sqrt2, reading[sensors.ForwardRight2], 1e-9)
	suite.Equal(sensors.DefaultSentinel, reading[sensors.Left])
	suite.InDelta(2.0, reading[sensors.Downward], 1e-9)
}

func (suite *SensorsTestSuite) TestCastRotatesDirectionsByHeading() {
	// Arrange: facing +Y, so the left sensor points along -X.
	array := sensors.NewArray(sensors.DefaultDirections(), wallRaycaster{wallX: -4, groundZ: -100})

	// Act
	reading := array.Cast(mgl64.Vec3{0, 0, 0}, math.Pi/2)

	// Assert
	suite.InDelta(4.0, reading[sensors.Left], 1e-9)
	suite.Equal(sensors.DefaultSentinel, reading[sensors.Right])
	suite.Equal(sensors.DefaultSentinel, reading[sensors.Forward])
}

func (suite *SensorsTestSuite) TestCastTreatsNaNHitAsClear() {
	// Arrange
	array := sensors.NewArray(sensors.DefaultDirections(), nanRaycaster{})

	// Act
	reading := array.Cast(mgl64.Vec3{}, 0)

	// Assert
	suite.Equal(sensors.DefaultSentinel, reading[sensors.Forward])
}

func (suite *SensorsTestSuite) TestVisualizerReceivesEveryRayWithoutChangingDistances() {
	// Arrange
	visualizer := &recordingVisualizer{rays: map[string][2]mgl64.Vec3{}}
	plain := sensors.NewArray(sensors.DefaultDirections(), wallRaycaster{wallX: 10, groundZ: -2})
	shown := sensors.NewArray(sensors.DefaultDirections(), wallRaycaster{wallX: 10, groundZ: -2}, sensors.WithVisualizer(visualizer))

	// Act
	want := plain.Cast(mgl64.Vec3{}, 0)
	got := shown.Cast(mgl64.Vec3{}, 0)

	// Assert
	suite.Equal(want, got)
	suite.Len(visualizer.rays, 8)
	suite.InDelta(10.0, visualizer.rays[sensors.Forward][1].X(), 1e-9)
}

func (suite *SensorsTestSuite) TestMinExcludingSkipsNamedSensors() {
	// Arrange
	reading := sensors.Reading{sensors.Left: 3, sensors.Downward: 0.1, sensors.Forward: 7}

	// Act
	got, found := reading.MinExcluding(sensors.Downward)

	// Assert
	suite.True(found)
	suite.Equal(3.0, got)
}
