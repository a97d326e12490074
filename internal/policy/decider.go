package policy

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zetetos/racetrack-env/internal/decision"
)

const localBuffer = 8

// DeciderOptions configures a LocalDecider.
type DeciderOptions struct {
	Model      Model
	Mappings   map[int]map[string]bool
	ActionList []string
	Seed       uint64
	Logger     zerolog.Logger
}

// LocalDecider answers requests synchronously from a local model. Terminal
// requests need no action and produce no response.
type LocalDecider struct {
	model      Model
	mappings   map[int]map[string]bool
	actionList []string
	rng        *rand.Rand
	log        zerolog.Logger

	mu        sync.Mutex
	closed    bool
	responses chan decision.Response
}

// NewLocalDecider creates a LocalDecider seeded for reproducible sampling.
func NewLocalDecider(opts DeciderOptions) *LocalDecider {
	return &LocalDecider{
		model:      opts.Model,
		mappings:   opts.Mappings,
		actionList: opts.ActionList,
		rng:        rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		log:        opts.Logger,
		responses:  make(chan decision.Response, localBuffer),
	}
}

// ChooseAction samples an action index for the observation.
func (d *LocalDecider) ChooseAction(observation []float64) (int, float64, error) {
	probs, value, err := d.model.Predict(observation)
	if err != nil {
		return 0, 0, fmt.Errorf("choose action: %w", err)
	}

	return SampleCategorical(probs, d.rng.Float64()), value, nil
}

// Submit implements decision.Decider.
func (d *LocalDecider) Submit(req decision.Request) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false, decision.ErrClosed
	}

	if req.Done {
		return true, nil
	}

	resp := decision.Response{AgentID: req.AgentID, Generation: req.Generation, Seq: req.Seq}

	index, value, err := d.ChooseAction(req.Observation.Values)
	if err != nil {
		resp.Kind = decision.KindError
		resp.Err = err
	} else {
		resp.Kind = decision.KindAction
		resp.Action = ActionDict(index, d.mappings, d.actionList)

		d.log.Trace().Int("action", index).Float64("value", value).Uint64("seq", req.Seq).Msg("local action")
	}

	select {
	case d.responses <- resp:
		return true, nil
	default:
		d.log.Trace().Uint64("seq", req.Seq).Msg("response buffer full, dropping local action")

		return false, nil
	}
}

// Responses implements decision.Decider.
func (d *LocalDecider) Responses() <-chan decision.Response {
	return d.responses
}

// Close implements decision.Decider.
func (d *LocalDecider) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.closed {
		d.closed = true
		close(d.responses)
	}

	return nil
}
