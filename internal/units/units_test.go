package units_test

import (
	"math"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/zetetos/racetrack-env/internal/units"
)

type UnitConversionTestSuite struct {
	suite.Suite
}

func TestUnitConversionTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(UnitConversionTestSuite))
}

func (suite *UnitConversionTestSuite) TestUnitConversionFunctionsReturnCorrectValues() {
	type testCase struct {
		function  func(float64) float64
		withValue float64
		wantValue float64
	}

	// Arrange
	testCases := []testCase{
		{units.MetersPerSecondToKilometersPerHour, 1, 3.6},
		{units.MetersPerSecondToMilesPerHour, 1, 2.2369363},
		{units.RadiansToDegrees, 1, 57.29578},
		{units.RadiansToDegrees, -3.14159265, -180},
		{units.DegreesToRadians, 180, math.Pi},
	}

	for _, testCase := range testCases {
		fnNameSegments := strings.Split(runtime.FuncForPC(reflect.ValueOf(testCase.function).Pointer()).Name(), ".")
		fnName := fnNameSegments[len(fnNameSegments)-1]

		suite.Run(fnName, func() {
			// Act
			gotValue := testCase.function(testCase.withValue)

			// Assert
			suite.InEpsilon(testCase.wantValue, gotValue, 1e-5)
		})
	}
}

func (suite *UnitConversionTestSuite) TestNormaliseRadiansWrapsIntoHalfOpenRange() {
	testCases := []struct {
		withValue float64
		wantValue float64
	}{
		{0, 0},
		{math.Pi, math.Pi},
		{-math.Pi, math.Pi},
		{3 * math.Pi / 2, -math.Pi / 2},
		{-5 * math.Pi / 2, -math.Pi / 2},
		{4 * math.Pi, 0},
	}

	for _, tc := range testCases {
		// Act
		gotValue := units.NormaliseRadians(tc.withValue)

		// Assert
		suite.InDelta(tc.wantValue, gotValue, 1e-9, "value %f", tc.withValue)
	}
}
