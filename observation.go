package racetrack

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/zetetos/racetrack-env/internal/decision"
	"github.com/zetetos/racetrack-env/internal/sensors"
	"github.com/zetetos/racetrack-env/pkg/models"
)

// Observation feature names that do not come from a sensor or a control.
const (
	FeaturePercentCompleted = "percentOfTrackCompleted"
	FeatureCarSpeed         = "carSpeed"

	// RayFeaturePrefix prefixes the capitalised sensor name in ray features,
	// e.g. rayLengthForwardLeft1.
	RayFeaturePrefix = "rayLength"
)

// Ray features are clipped to these ranges and scaled into [0, 1].
const (
	RayRange      = 20.0
	DownwardRange = 5.0
	SpeedScale    = 10.0
)

var (
	ErrUnknownFeature    = errors.New("unknown observation feature")
	ErrObservationLength = errors.New("observation length does not match state space")
	ErrMissingSensor     = errors.New("sensor reading missing")
)

// featureInput is everything a feature can be derived from.
type featureInput struct {
	percent  float64
	speed    float64
	controls models.Controls
	reading  sensors.Reading
}

type extractor func(in featureInput) (float64, error)

// ObservationSchema is the fixed, ordered feature list sent to the decision
// service. Every profile version maps to one schema.
type ObservationSchema struct {
	Version    int
	StateSpace int

	names   []string
	extract []extractor
}

// NewObservationSchema resolves every feature name against the sensor set.
func NewObservationSchema(features []string, stateSpace, version int, directions []sensors.Direction) (*ObservationSchema, error) {
	if len(features) != stateSpace {
		return nil, fmt.Errorf("%w: %d features, state space %d", ErrObservationLength, len(features), stateSpace)
	}

	schema := &ObservationSchema{
		Version:    version,
		StateSpace: stateSpace,
		names:      append([]string(nil), features...),
		extract:    make([]extractor, 0, len(features)),
	}

	for _, name := range features {
		fn, err := resolveFeature(name, directions)
		if err != nil {
			return nil, err
		}

		schema.extract = append(schema.extract, fn)
	}

	return schema, nil
}

func resolveFeature(name string, directions []sensors.Direction) (extractor, error) {
	switch name {
	case FeaturePercentCompleted:
		return func(in featureInput) (float64, error) { return in.percent / 100, nil }, nil
	case FeatureCarSpeed:
		return func(in featureInput) (float64, error) { return in.speed * SpeedScale, nil }, nil
	}

	for _, control := range models.ControlNames {
		if name == control {
			return func(in featureInput) (float64, error) {
				pressed, err := in.controls.Get(control)
				if pressed {
					return 1, err
				}

				return 0, err
			}, nil
		}
	}

	for _, d := range directions {
		if name != RayFeatureName(d.Name) {
			continue
		}

		sensor := d.Name
		limit := RayRange

		if d.Surface == sensors.SurfaceGround {
			limit = DownwardRange
		}

		return func(in featureInput) (float64, error) {
			distance, ok := in.reading[sensor]
			if !ok {
				return 0, fmt.Errorf("%w: %s", ErrMissingSensor, sensor)
			}

			return math.Min(distance, limit) / limit, nil
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
}

// RayFeatureName returns the observation feature name for a sensor.
func RayFeatureName(sensor string) string {
	if sensor == "" {
		return RayFeaturePrefix
	}

	return RayFeaturePrefix + strings.ToUpper(sensor[:1]) + sensor[1:]
}

// Names returns the feature names in order.
func (s *ObservationSchema) Names() []string {
	return append([]string(nil), s.names...)
}

// Build evaluates every feature for the current tick.
func (s *ObservationSchema) Build(percent, speed float64, controls models.Controls, reading sensors.Reading) (decision.Observation, error) {
	in := featureInput{percent: percent, speed: speed, controls: controls, reading: reading}
	values := make([]float64, 0, len(s.extract))

	for i, fn := range s.extract {
		v, err := fn(in)
		if err != nil {
			return decision.Observation{}, fmt.Errorf("feature %s: %w", s.names[i], err)
		}

		values = append(values, v)
	}

	if len(values) != s.StateSpace {
		return decision.Observation{}, fmt.Errorf("%w: %d values, state space %d", ErrObservationLength, len(values), s.StateSpace)
	}

	return decision.Observation{Names: s.Names(), Values: values}, nil
}
