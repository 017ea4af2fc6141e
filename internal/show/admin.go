package show

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tunnelcast/tunnelcast/internal/config"
	"github.com/tunnelcast/tunnelcast/internal/monitoring"
)

const defaultAdminLogInterval = time.Second

// The three stop-outcome messages spec.md's admin handler distinguishes,
// worded exactly as the original's run_remote show_stop_msg.
const (
	stopMsgPanicked     = "Running show panicked."
	stopMsgStoppedClean = "Running show stopped cleanly."
	stopMsgNoneRunning  = "No show was running."
)

// Builder constructs a running ClientDriver from a config, performing
// whatever dialing, initial time-sync, and subscription setup a fresh
// driver needs. It is supplied by the caller (cmd/tunnelclient) since it
// depends on concrete transports this package doesn't own.
type Builder func(ctx context.Context, cfg config.ClientConfig) (*ClientDriver, error)

// ShowManager owns the client's currently-running show and can tear it
// down and rebuild it against a new ClientConfig, without the caller
// needing to manage the driver's goroutines directly. Grounded on the
// original's run_remote/ShowManager: the admin endpoint is a thin
// wrapper that forwards a decoded config to Restart.
type ShowManager struct {
	mu      sync.Mutex
	build   Builder
	ctx     context.Context
	current *ClientDriver
	cfg     config.ClientConfig
}

// NewShowManager builds and starts the initial show from cfg.
func NewShowManager(ctx context.Context, build Builder, cfg config.ClientConfig) (*ShowManager, error) {
	driver, err := build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("show: starting initial show: %w", err)
	}
	return &ShowManager{build: build, ctx: ctx, current: driver, cfg: cfg}, nil
}

// NewEmptyShowManager creates a manager with no show running yet: the
// "remote" client mode starts this way, waiting for the first config to
// arrive over the admin socket before anything renders.
func NewEmptyShowManager(ctx context.Context, build Builder) *ShowManager {
	return &ShowManager{build: build, ctx: ctx}
}

// Restart stops the currently-running driver and starts a new one built
// from cfg. If the new driver fails to start, the old one is left
// stopped: a remote admin pushing a broken config does not silently keep
// the previous show alive in its place. The returned stop message reports
// what happened to the show that was torn down (panicked / stopped
// cleanly / none was running); a background-loop panic in the old show
// does not prevent the new one from starting, per the WorkerPanicked
// policy.
func (m *ShowManager) Restart(cfg config.ClientConfig) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stopMsg := stopMsgNoneRunning
	if m.current != nil {
		old := m.current
		m.current = nil
		old.Stop()
		if old.Panicked() {
			stopMsg = stopMsgPanicked
		} else {
			stopMsg = stopMsgStoppedClean
		}
	}

	driver, err := m.build(m.ctx, cfg)
	if err != nil {
		return stopMsg, fmt.Errorf("show: rebuilding show: %w", err)
	}
	m.current = driver
	m.cfg = cfg
	return stopMsg, nil
}

// Current returns the configuration of the currently-running show.
func (m *ShowManager) Current() config.ClientConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Close stops the currently-running show.
func (m *ShowManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Stop()
		m.current = nil
	}
}

// AdminHandler adapts a ShowManager to the reqrep.Handler signature: the
// request body is a JSON-encoded ClientConfig document. A successful
// restart replies with the old show's stop outcome followed by "Ok.";
// a request that fails to parse as a ClientConfig leaves the running
// show untouched and replies with a human-readable parse error.
func AdminHandler(manager *ShowManager) func(req []byte) ([]byte, error) {
	return func(req []byte) ([]byte, error) {
		cfg, err := config.ParseClientConfig(req)
		if err != nil {
			return nil, fmt.Errorf("could not parse request as a show configuration: %w", err)
		}

		stopMsg, err := manager.Restart(cfg)
		if err != nil {
			monitoring.RateLimited("show-admin-restart-failed", defaultAdminLogInterval,
				"show: admin restart failed: %v", err)
			return nil, err
		}
		return []byte(stopMsg + " Ok."), nil
	}
}
