package reader

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HeartbeatInterval is how often the reader re-subscribes with the physics
// engine.
const HeartbeatInterval = 10 * time.Second

var (
	ErrFailedToReceiveSnapshot = errors.New("failed to receive snapshot")
	ErrNoDataReceived          = errors.New("no data received")
)

// UDPReader receives snapshot datagrams from an external physics engine. The
// engine streams to whoever sent the last heartbeat, so the reader listens on
// sendPort+1 and heartbeats to host:sendPort.
type UDPReader struct {
	conn       *net.UDPConn
	address    string
	sendPort   int
	stopTicker chan struct{}
	closeOnce  sync.Once
	log        zerolog.Logger
}

// NewUDPReader starts listening and heartbeating.
func NewUDPReader(host string, sendPort int, log zerolog.Logger) (*UDPReader, error) {
	log.Debug().Msg("creating UDP reader")

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", sendPort+1))
	if err != nil {
		return nil, fmt.Errorf("resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("setup UDP listener %d: %w", sendPort+1, err)
	}

	reader := &UDPReader{
		conn:       conn,
		address:    host,
		sendPort:   sendPort,
		stopTicker: make(chan struct{}),
		log:        log,
	}

	go reader.heartbeat()

	return reader, nil
}

func (r *UDPReader) heartbeat() {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	if err := r.sendHeartbeat(); err != nil {
		r.log.Error().Err(err).Msg("send initial heartbeat")
	}

	for {
		select {
		case <-r.stopTicker:
			r.log.Debug().Msg("heartbeat goroutine stopping")

			return
		case <-ticker.C:
			if err := r.sendHeartbeat(); err != nil {
				r.log.Error().Err(err).Msg("send heartbeat")
			}
		}
	}
}

// LocalAddr returns the listening address.
func (r *UDPReader) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

func (r *UDPReader) Read() (int, []byte, error) {
	buffer := make([]byte, 512)

	n, _, err := r.conn.ReadFromUDP(buffer)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrFailedToReceiveSnapshot, err)
	}

	if n == 0 {
		return 0, nil, ErrNoDataReceived
	}

	return n, buffer[:n], nil
}

func (r *UDPReader) Close() error {
	var closeErr error

	r.closeOnce.Do(func() {
		r.log.Debug().Msg("closing UDP reader")

		close(r.stopTicker)
		_ = r.conn.SetReadDeadline(time.Now())

		closeErr = r.conn.Close()
	})

	return closeErr
}

func (r *UDPReader) sendHeartbeat() error {
	r.log.Debug().Msgf("sending heartbeat to %s:%d", r.address, r.sendPort)

	_, err := r.conn.WriteToUDP(Magic, &net.UDPAddr{
		IP:   net.ParseIP(r.address),
		Port: r.sendPort,
	})
	if err != nil {
		return fmt.Errorf("send UDP heartbeat: %w", err)
	}

	return nil
}
