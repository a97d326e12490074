package bridge

import "sync"

// Transition is one step of experience for a learner.
type Transition struct {
	AgentID string
	State   []float64
	Action  int
	Value   float64
	Reward  float64
	Done    bool
}

// Policy picks the next action for an observation.
type Policy interface {
	ChooseAction(observation []float64) (action int, value float64, err error)
}

// Learner consumes experience and updates the policy between batches.
type Learner interface {
	Remember(t Transition)
	// Learn runs one training round and reports whether anything was learned.
	Learn(totalGames int, avgCompletion float64) (bool, error)
}

// BufferLearner only buffers transitions and drops them on Learn.
type BufferLearner struct {
	mu          sync.Mutex
	transitions []Transition
	rounds      int
}

func (l *BufferLearner) Remember(t Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.transitions = append(l.transitions, t)
}

func (l *BufferLearner) Learn(int, float64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	learned := len(l.transitions) > 0
	l.transitions = l.transitions[:0]
	l.rounds++

	return learned, nil
}

// Buffered returns the number of transitions waiting for the next round.
func (l *BufferLearner) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.transitions)
}

// Rounds returns how many times Learn ran.
func (l *BufferLearner) Rounds() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.rounds
}
