// Package decision exchanges observations for control actions with a decision
// maker, either a remote training service or a local policy.
package decision

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/zetetos/racetrack-env/pkg/models"
)

var (
	// ErrUnexpectedStatus is returned for non-2xx replies.
	ErrUnexpectedStatus = errors.New("unexpected status from decision service")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("decider closed")
	// ErrObservationMismatch is returned when names and values differ in length.
	ErrObservationMismatch = errors.New("observation names and values differ in length")
)

// Observation is an ordered set of named features. It encodes as a JSON object
// whose keys keep their order.
type Observation struct {
	Names  []string
	Values []float64
}

// Len returns the number of features.
func (o Observation) Len() int {
	return len(o.Values)
}

// Get returns a feature value by name.
func (o Observation) Get(name string) (float64, bool) {
	for i, n := range o.Names {
		if n == name && i < len(o.Values) {
			return o.Values[i], true
		}
	}

	return 0, false
}

// MarshalJSON implements json.Marshaler.
func (o Observation) MarshalJSON() ([]byte, error) {
	if len(o.Names) != len(o.Values) {
		return nil, ErrObservationMismatch
	}

	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, name := range o.Names {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(o.Values[i], 'g', -1, 64))
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping key order.
func (o *Observation) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("observation: expected object, got %v", tok)
	}

	o.Names = o.Names[:0]
	o.Values = o.Values[:0]

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}

		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("observation: expected key, got %v", tok)
		}

		var value float64
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("observation %q: %w", name, err)
		}

		o.Names = append(o.Names, name)
		o.Values = append(o.Values, value)
	}

	_, err = dec.Token()

	return err
}

// Request is one exchange with the decision maker.
type Request struct {
	AgentID     string
	Generation  uint64
	Seq         uint64
	Observation Observation
	Done        bool
	Win         bool
	Elapsed     time.Duration
}

// Kind classifies a Response.
type Kind int

const (
	KindAction Kind = iota
	KindPause
	KindResume
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindAction:
		return "action"
	case KindPause:
		return "pause"
	case KindResume:
		return "resume"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Response carries the outcome of a Request, or an unsolicited resume signal.
type Response struct {
	Kind       Kind
	AgentID    string
	Generation uint64
	Seq        uint64
	Action     map[string]bool
	Err        error
}

// Decider is implemented by remote and local decision makers. Submit must not
// block the caller; replies arrive on Responses.
type Decider interface {
	// Submit queues req and reports whether it was accepted. A request raised
	// while another is in flight is dropped unless it reports a terminal
	// outcome, in which case it is sent once the in-flight request completes.
	Submit(req Request) (bool, error)
	Responses() <-chan Response
	Close() error
}

// ApplyAction copies every control in actionList from action into controls.
// Listed controls missing from action are released. Controls outside the list
// keep their value.
func ApplyAction(controls *models.Controls, action map[string]bool, actionList []string) error {
	for _, name := range actionList {
		if err := controls.Set(name, action[name]); err != nil {
			return fmt.Errorf("apply action: %w", err)
		}
	}

	return nil
}
