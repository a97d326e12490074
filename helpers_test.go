package racetrack_test

import (
	"sync"

	"github.com/zetetos/racetrack-env/internal/decision"
	"github.com/zetetos/racetrack-env/pkg/models"
	"github.com/zetetos/racetrack-env/pkg/tracks"
)

// straightTrack runs 100 units along +X at z=36 between walls at y=±4.
func straightTrack() tracks.Track {
	return tracks.Track{
		ID:            "straight",
		Name:          "Straight",
		Spawn:         models.Coordinate{X: 0, Y: 0, Z: 40},
		StartAltitude: 36.5,
		DeathAltitude: 34,
		GravityZ:      -1.7,
		HalfWidth:     4,
		WallHeight:    3,
		Waypoints: []models.Coordinate{
			{X: 0, Y: 0, Z: 36},
			{X: 50, Y: 0, Z: 36},
			{X: 100, Y: 0, Z: 36},
		},
	}
}

// fakeDecider records requests and replays queued responses.
type fakeDecider struct {
	mu        sync.Mutex
	requests  []decision.Request
	reject    bool
	responses chan decision.Response
	closed    bool
}

func newFakeDecider() *fakeDecider {
	return &fakeDecider{responses: make(chan decision.Response, 16)}
}

func (d *fakeDecider) Submit(req decision.Request) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false, decision.ErrClosed
	}

	if d.reject {
		return false, nil
	}

	d.requests = append(d.requests, req)

	return true, nil
}

func (d *fakeDecider) Responses() <-chan decision.Response { return d.responses }

func (d *fakeDecider) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true

	return nil
}

func (d *fakeDecider) Requests() []decision.Request {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]decision.Request(nil), d.requests...)
}

func (d *fakeDecider) push(resp decision.Response) {
	d.responses <- resp
}
