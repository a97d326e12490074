package reader

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
)

// DefaultSource is the physics engine address used when none is given.
const DefaultSource = "udp://127.0.0.1:33740"

var ErrInvalidScheme = errors.New("invalid source URL scheme")

// Open creates a Reader for a udp:// physics engine or a file:// recording.
// A recoverable error means the source may come up on a later attempt.
func Open(source string, log zerolog.Logger) (r Reader, recoverable bool, err error) {
	if source == "" {
		source = DefaultSource
	}

	sourceURL, err := url.Parse(source)
	if err != nil {
		return nil, false, fmt.Errorf("parse source URL: %w", err)
	}

	switch sourceURL.Scheme {
	case "udp":
		host, portStr, err := net.SplitHostPort(sourceURL.Host)
		if err != nil {
			return nil, false, fmt.Errorf("parse URL host: %w", err)
		}

		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, false, fmt.Errorf("parse URL port: %w", err)
		}

		udp, err := NewUDPReader(host, port, log)
		if err != nil {
			return nil, true, fmt.Errorf("setup UDP reader: %w", err)
		}

		return udp, false, nil
	case "file":
		file, err := NewFileReader(sourceURL.Host+sourceURL.Path, log)
		if err != nil {
			return nil, false, fmt.Errorf("setup file reader: %w", err)
		}

		return file, false, nil
	default:
		return nil, false, fmt.Errorf("%w %q", ErrInvalidScheme, sourceURL.Scheme)
	}
}
