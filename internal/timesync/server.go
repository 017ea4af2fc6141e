package timesync

import (
	"github.com/tunnelcast/tunnelcast/internal/timeutil"
	"github.com/tunnelcast/tunnelcast/internal/wire"
)

// Server answers time-sync probes. On any request body (content ignored)
// it replies with its current monotonic time in fractional seconds since
// the server started. No state is kept between requests.
type Server struct {
	clock timeutil.Clock
	start int64 // nanoseconds, per clock.Now().UnixNano() at construction
}

// NewServer creates a time-sync server whose epoch is the instant of
// construction.
func NewServer(clock timeutil.Clock) *Server {
	return &Server{clock: clock, start: clock.Now().UnixNano()}
}

// Handle implements the reqrep.Handler signature: reply with the current
// time in fractional seconds since the server started.
func (s *Server) Handle(_ []byte) ([]byte, error) {
	elapsed := s.clock.Now().UnixNano() - s.start
	seconds := float64(elapsed) / 1e9
	return wire.EncodeFloat64(seconds)
}
