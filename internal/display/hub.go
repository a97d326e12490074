package display

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	clientBuffer = 16
	writeTimeout = time.Second
)

// Ray is a sensor segment for the scene overlay.
type Ray struct {
	Name string     `json:"name"`
	From [3]float64 `json:"from"`
	To   [3]float64 `json:"to"`
}

type frame struct {
	Type   string `json:"type"`
	Update Update `json:"update"`
	Rays   []Ray  `json:"rays,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts updates to websocket viewers. Slow viewers miss frames rather
// than holding up the loop.
type Hub struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[string]*client
	rays    map[string]Ray
}

// NewHub creates an empty Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[string]*client),
		rays:    make(map[string]Ray),
	}
}

// ServeHTTP upgrades the connection and registers a viewer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade")

		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.log.Debug().Str("viewer", c.id).Msg("viewer connected")

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop drains incoming messages so close frames are noticed.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Debug().Err(err).Str("viewer", c.id).Msg("websocket write")
			_ = c.conn.Close()

			return
		}
	}

	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)

		h.log.Debug().Str("viewer", c.id).Msg("viewer disconnected")
	}
}

// Viewers returns the number of connected viewers.
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// UpdateRay implements sensors.Visualizer. Rays are sent with the next frame.
func (h *Hub) UpdateRay(name string, from, to mgl64.Vec3) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.rays[name] = Ray{Name: name, From: from, To: to}
}

// Push implements Sink.
func (h *Hub) Push(u Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) == 0 {
		return nil
	}

	u.ElapsedMs = u.Elapsed.Milliseconds()
	f := frame{Type: "progress", Update: u}

	for _, r := range h.rays {
		f.Rays = append(f.Rays, r)
	}

	msg, err := json.Marshal(f)
	if err != nil {
		return err
	}

	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}

	return nil
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}
