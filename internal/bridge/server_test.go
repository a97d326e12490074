package bridge_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/zetetos/racetrack-env/internal/bridge"
	"github.com/zetetos/racetrack-env/internal/decision"
	"github.com/zetetos/racetrack-env/internal/store"
)

type fixedPolicy struct {
	mu       sync.Mutex
	action   int
	observed [][]float64
}

func (p *fixedPolicy) ChooseAction(observation []float64) (int, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.observed = append(p.observed, observation)

	return p.action, 0.5, nil
}

type recordingLearner struct {
	bridge.BufferLearner
	mu          sync.Mutex
	transitions []bridge.Transition
}

func (l *recordingLearner) Remember(t bridge.Transition) {
	l.mu.Lock()
	l.transitions = append(l.transitions, t)
	l.mu.Unlock()

	l.BufferLearner.Remember(t)
}

func (l *recordingLearner) remembered() []bridge.Transition {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]bridge.Transition(nil), l.transitions...)
}

type ServerTestSuite struct {
	suite.Suite
	policy    *fixedPolicy
	learner   *recordingLearner
	store     *store.Store
	chartPath string
	server    *bridge.Server
	http      *httptest.Server
}

func TestServerTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(ServerTestSuite))
}

func (suite *ServerTestSuite) SetupTest() {
	s, err := store.New(":memory:")
	suite.Require().NoError(err)

	suite.store = s
	suite.policy = &fixedPolicy{action: 1}
	suite.learner = &recordingLearner{}
	suite.chartPath = filepath.Join(suite.T().TempDir(), "statistics.png")
	suite.newServer(2)
}

func (suite *ServerTestSuite) TearDownTest() {
	suite.http.Close()
	suite.Require().NoError(suite.store.Close())
}

func (suite *ServerTestSuite) newServer(trainFrequency int) {
	if suite.http != nil {
		suite.http.Close()
	}

	server, err := bridge.New(bridge.Options{
		Policy:         suite.policy,
		Learner:        suite.learner,
		Mappings:       map[int]map[string]bool{0: {"up": true}, 1: {"up": true, "left": true}},
		ActionList:     []string{"up", "down", "left", "right"},
		TrainFrequency: trainFrequency,
		Store:          suite.store,
		TrackID:        "straight",
		ProfileID:      "ppo-v2",
		ChartPath:      suite.chartPath,
		Logger:         zerolog.Nop(),
	})
	suite.Require().NoError(err)

	suite.server = server
	suite.http = httptest.NewServer(server.Routes())
}

func observation(percent float64) decision.Observation {
	return decision.Observation{
		Names:  []string{"carSpeed", bridge.PercentFeature},
		Values: []float64{0.4, percent},
	}
}

func (suite *ServerTestSuite) getAction(req bridge.ActionRequest) (int, bridge.ActionResponse) {
	body, err := json.Marshal(req)
	suite.Require().NoError(err)

	res, err := http.Post(suite.http.URL+"/get_action", "application/json", bytes.NewReader(body))
	suite.Require().NoError(err)
	defer res.Body.Close()

	var out bridge.ActionResponse
	if res.StatusCode == http.StatusOK {
		suite.Require().NoError(json.NewDecoder(res.Body).Decode(&out))
	}

	return res.StatusCode, out
}

func (suite *ServerTestSuite) checkUnpause(agentID string) bool {
	res, err := http.Get(suite.http.URL + "/check_unpause?agent_id=" + agentID)
	suite.Require().NoError(err)
	defer res.Body.Close()

	suite.Require().Equal(http.StatusOK, res.StatusCode)

	var out struct {
		Unpause bool `json:"unpause"`
	}
	suite.Require().NoError(json.NewDecoder(res.Body).Decode(&out))

	return out.Unpause
}

func TestReward(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		last    float64
		percent float64
		done    bool
		win     bool
		want    float64
	}{
		{name: "progress", last: 10, percent: 12.5, want: 2.5},
		{name: "backwards", last: 10, percent: 9, want: -1},
		{name: "death", last: 10, percent: 50, done: true, want: -1},
		{name: "win", last: 99, percent: 100, done: true, win: true, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, bridge.Reward(tt.last, tt.percent, tt.done, tt.win), 1e-9)
		})
	}
}

func (suite *ServerTestSuite) TestNewNeedsPolicy() {
	// Act
	_, err := bridge.New(bridge.Options{})

	// Assert
	suite.ErrorIs(err, bridge.ErrNoPolicy)
}

func (suite *ServerTestSuite) TestGetActionReturnsMappedAction() {
	// Act
	status, resp := suite.getAction(bridge.ActionRequest{AgentID: "a", Observation: observation(0.1)})

	// Assert
	suite.Equal(http.StatusOK, status)
	suite.False(resp.Pause)
	suite.Equal(map[string]bool{"up": true, "down": false, "left": true, "right": false}, resp.Action)
	suite.Empty(suite.learner.remembered())
	suite.Equal([][]float64{{0.4, 0.1}}, suite.policy.observed)
}

func (suite *ServerTestSuite) TestGetActionRejectsBadRequests() {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "not json", body: `{`, want: http.StatusBadRequest},
		{name: "missing agent", body: `{"observation":{"carSpeed":1}}`, want: http.StatusBadRequest},
		{name: "empty observation", body: `{"agent_id":"a","observation":{}}`, want: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			// Act
			res, err := http.Post(suite.http.URL+"/get_action", "application/json", bytes.NewBufferString(tt.body))
			suite.Require().NoError(err)
			res.Body.Close()

			// Assert
			suite.Equal(tt.want, res.StatusCode)
		})
	}
}

func (suite *ServerTestSuite) TestTransitionsCarryProgressReward() {
	// Arrange
	suite.getAction(bridge.ActionRequest{AgentID: "a", Observation: observation(0.10)})

	// Act
	suite.getAction(bridge.ActionRequest{AgentID: "a", Observation: observation(0.12)})

	// Assert
	remembered := suite.learner.remembered()
	suite.Require().Len(remembered, 1)
	suite.Equal("a", remembered[0].AgentID)
	suite.Equal([]float64{0.4, 0.10}, remembered[0].State)
	suite.Equal(1, remembered[0].Action)
	suite.InDelta(0.5, remembered[0].Value, 1e-9)
	suite.InDelta(2, remembered[0].Reward, 1e-9)
	suite.False(remembered[0].Done)
}

func (suite *ServerTestSuite) TestDonePausesAndStoresEpisode() {
	// Arrange
	suite.getAction(bridge.ActionRequest{AgentID: "a", Observation: observation(0.10)})

	// Act
	status, resp := suite.getAction(bridge.ActionRequest{
		AgentID:            "a",
		Observation:        observation(0.25),
		Done:               true,
		TimeSinceGameStart: 4200,
		Generation:         3,
	})

	// Assert
	suite.Equal(http.StatusOK, status)
	suite.True(resp.Pause)

	remembered := suite.learner.remembered()
	suite.Require().Len(remembered, 1)
	suite.InDelta(-1, remembered[0].Reward, 1e-9)
	suite.True(remembered[0].Done)

	stats := suite.server.Stats()
	suite.Equal(1, stats.Agents)
	suite.Equal(1, stats.Paused)
	suite.Equal(1, stats.TotalCompletedGames)
	suite.Equal(1, stats.BatchGames)

	episodes, err := suite.store.ListEpisodes(context.Background(), store.Filter{})
	suite.Require().NoError(err)
	suite.Require().Len(episodes, 1)
	suite.Equal(store.OutcomeLoss, episodes[0].Outcome)
	suite.Equal("straight", episodes[0].TrackID)
	suite.Equal("ppo-v2", episodes[0].ProfileID)
	suite.Equal(uint64(3), episodes[0].Generation)
	suite.Equal(int64(4200), episodes[0].ElapsedMs)
	suite.InDelta(25, episodes[0].PercentCompleted, 1e-9)
	suite.InDelta(-1, episodes[0].Reward, 1e-9)
}

func (suite *ServerTestSuite) TestNextEpisodeStartsWithoutTransition() {
	// Arrange
	suite.getAction(bridge.ActionRequest{AgentID: "a", Observation: observation(0.5)})
	suite.getAction(bridge.ActionRequest{AgentID: "a", Observation: observation(1), Done: true, Win: true})
	suite.checkUnpause("a")

	// Act
	suite.getAction(bridge.ActionRequest{AgentID: "a", Observation: observation(0)})

	// Assert
	suite.Len(suite.learner.remembered(), 1)
}

func (suite *ServerTestSuite) TestCheckUnpauseWaitsForEveryAgent() {
	// Arrange
	suite.getAction(bridge.ActionRequest{AgentID: "a", Observation: observation(0.1)})
	suite.getAction(bridge.ActionRequest{AgentID: "b", Observation: observation(0.1)})
	suite.getAction(bridge.ActionRequest{AgentID: "a", Observation: observation(0.2), Done: true})

	// Act & Assert
	suite.False(suite.checkUnpause("a"))
	suite.True(suite.checkUnpause("b"))
	suite.False(suite.checkUnpause("unknown"))

	suite.getAction(bridge.ActionRequest{AgentID: "b", Observation: observation(0.3), Done: true})

	suite.True(suite.checkUnpause("a"))
	suite.True(suite.checkUnpause("b"))
	suite.Equal(0, suite.server.Stats().Paused)
}

func (suite *ServerTestSuite) TestTrainingRunsOnFullBatch() {
	// Arrange
	suite.getAction(bridge.ActionRequest{AgentID: "a", Observation: observation(0.1)})
	suite.getAction(bridge.ActionRequest{AgentID: "a", Observation: observation(0.2), Done: true})
	suite.True(suite.checkUnpause("a"))
	suite.Equal(0, suite.learner.Rounds(), "one game is short of the batch")

	suite.getAction(bridge.ActionRequest{AgentID: "a", Observation: observation(0.5)})
	suite.getAction(bridge.ActionRequest{AgentID: "a", Observation: observation(1), Done: true, Win: true})

	// Act
	unpause := suite.checkUnpause("a")

	// Assert
	suite.True(unpause)
	suite.Equal(1, suite.learner.Rounds())
	suite.Equal(0, suite.learner.Buffered())

	stats := suite.server.Stats()
	suite.Equal(1, stats.TrainingRounds)
	suite.Equal(0, stats.BatchGames)
	suite.Require().Len(stats.Averages, 1)
	suite.Equal(2, stats.Averages[0].TotalGames)
	suite.InDelta(60, stats.Averages[0].AvgPercent, 1e-9)
	// episode rewards: -1 for the death, 50 for the win
	suite.InDelta(24.5, stats.Averages[0].AvgReward, 1e-9)

	_, err := os.Stat(suite.chartPath)
	suite.NoError(err)
}

func (suite *ServerTestSuite) TestStartTrainingForcesShortBatch() {
	// Arrange
	suite.getAction(bridge.ActionRequest{AgentID: "a", Observation: observation(0.2), Done: true})

	res, err := http.Post(suite.http.URL+"/start_training", "application/json", nil)
	suite.Require().NoError(err)
	res.Body.Close()
	suite.Require().Equal(http.StatusOK, res.StatusCode)

	// Act
	unpause := suite.checkUnpause("a")

	// Assert
	suite.True(unpause)
	suite.Equal(1, suite.server.Stats().TrainingRounds)
}

func (suite *ServerTestSuite) TestStatisticsEndpoints() {
	// Arrange
	suite.getAction(bridge.ActionRequest{AgentID: "a", Observation: observation(0.2)})

	// Act
	res, err := http.Get(suite.http.URL + "/statistics")
	suite.Require().NoError(err)
	defer res.Body.Close()

	var stats bridge.Statistics
	suite.Require().NoError(json.NewDecoder(res.Body).Decode(&stats))

	chart, err := http.Get(suite.http.URL + "/statistics.png")
	suite.Require().NoError(err)
	defer chart.Body.Close()

	health, err := http.Get(suite.http.URL + "/health")
	suite.Require().NoError(err)
	health.Body.Close()

	// Assert
	suite.Equal(1, stats.Agents)
	suite.Equal(2, stats.TrainFrequency)
	suite.Equal("image/png", chart.Header.Get("Content-Type"))
	suite.Equal(http.StatusOK, health.StatusCode)
}

func (suite *ServerTestSuite) TestClientRoundTrip() {
	// Arrange
	suite.newServer(1)

	client := decision.NewClient(decision.Options{
		BaseURL:      suite.http.URL,
		AgentID:      "remote",
		PollInterval: 10 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	defer client.Close()

	next := func() decision.Response {
		select {
		case resp := <-client.Responses():
			return resp
		case <-time.After(2 * time.Second):
			suite.FailNow("no response from client")

			return decision.Response{}
		}
	}

	// Act
	accepted, err := client.Submit(decision.Request{Observation: observation(0.1), Seq: 1})
	suite.Require().NoError(err)
	suite.Require().True(accepted)
	action := next()

	_, err = client.Submit(decision.Request{Observation: observation(0.3), Done: true, Seq: 2})
	suite.Require().NoError(err)
	pause := next()
	resume := next()

	// Assert
	suite.Equal(decision.KindAction, action.Kind)
	suite.True(action.Action["left"])
	suite.Equal(decision.KindPause, pause.Kind)
	suite.Equal(decision.KindResume, resume.Kind)
	suite.Equal(1, suite.server.Stats().TrainingRounds)
}
