// Package policy runs a pre-trained policy locally: it scores the action set
// for an observation and samples one action from the resulting distribution.
package policy

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
)

//go:embed data/*.json
var embeddedModels embed.FS

var (
	ErrModelShape        = errors.New("model weights do not match declared shape")
	ErrInputLength       = errors.New("observation length does not match model input")
	ErrUnknownDifficulty = errors.New("unknown difficulty")
)

// Model scores an observation.
type Model interface {
	// Predict returns one probability per action and the state value.
	Predict(observation []float64) (probs []float64, value float64, err error)
	Inputs() int
	Actions() int
}

// LinearModel is a softmax policy head over a linear layer, with a linear
// value head.
type LinearModel struct {
	Name         string      `json:"name"`
	InputCount   int         `json:"inputs"`
	ActionCount  int         `json:"actions"`
	Weights      [][]float64 `json:"weights"`
	Bias         []float64   `json:"bias"`
	ValueWeights []float64   `json:"value_weights"`
	ValueBias    float64     `json:"value_bias"`
}

// ParseLinearModel decodes and validates a JSON model.
func ParseLinearModel(data []byte) (*LinearModel, error) {
	var m LinearModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}

	if err := m.validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *LinearModel) validate() error {
	if m.InputCount <= 0 || m.ActionCount <= 0 {
		return fmt.Errorf("%w: inputs=%d actions=%d", ErrModelShape, m.InputCount, m.ActionCount)
	}

	if len(m.Weights) != m.ActionCount || len(m.Bias) != m.ActionCount {
		return fmt.Errorf("%w: %d weight rows, %d biases for %d actions", ErrModelShape, len(m.Weights), len(m.Bias), m.ActionCount)
	}

	for i, row := range m.Weights {
		if len(row) != m.InputCount {
			return fmt.Errorf("%w: row %d has %d weights", ErrModelShape, i, len(row))
		}
	}

	if m.ValueWeights != nil && len(m.ValueWeights) != m.InputCount {
		return fmt.Errorf("%w: %d value weights", ErrModelShape, len(m.ValueWeights))
	}

	return nil
}

func (m *LinearModel) Inputs() int  { return m.InputCount }
func (m *LinearModel) Actions() int { return m.ActionCount }

// Predict implements Model.
func (m *LinearModel) Predict(observation []float64) ([]float64, float64, error) {
	if len(observation) != m.InputCount {
		return nil, 0, fmt.Errorf("%w: got %d, want %d", ErrInputLength, len(observation), m.InputCount)
	}

	logits := make([]float64, m.ActionCount)
	for i, row := range m.Weights {
		logits[i] = floats.Dot(row, observation) + m.Bias[i]
	}

	value := m.ValueBias
	if m.ValueWeights != nil {
		value += floats.Dot(m.ValueWeights, observation)
	}

	return Softmax(logits), value, nil
}

// Softmax normalises logits into a probability vector.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}

	peak := floats.Max(logits)
	for i, l := range logits {
		out[i] = math.Exp(l - peak)
	}

	floats.Scale(1/floats.Sum(out), out)

	return out
}

// Difficulties lists the bundled model names.
func Difficulties() []string {
	entries, err := embeddedModels.ReadDir("data")
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}

	sort.Strings(names)

	return names
}

// LoadDifficulty returns a bundled model by name.
func LoadDifficulty(name string) (*LinearModel, error) {
	data, err := embeddedModels.ReadFile("data/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDifficulty, name)
	}

	return ParseLinearModel(data)
}
