package wifi

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Manager drives the network mode state machine. Scan and connect-like
// operations are single-flight: a second mutating call while one is in
// progress fails with ErrBusy instead of interleaving writes to the same
// system configuration target.
type Manager struct {
	backend   Backend
	applier   Applier
	iface     string
	opTimeout time.Duration

	mu    sync.Mutex
	state State

	opMu opGuard
}

// opGuard is a non-blocking mutex.
type opGuard struct {
	ch chan struct{}
}

func newOpGuard() opGuard {
	g := opGuard{ch: make(chan struct{}, 1)}
	g.ch <- struct{}{}
	return g
}

func (g *opGuard) tryAcquire() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

func (g *opGuard) release() {
	g.ch <- struct{}{}
}

const (
	statusTimeout    = 2 * time.Second
	defaultOpTimeout = 15 * time.Second
)

// NewManager reads the initial mode from the live system configuration;
// it is never assumed. An unreachable backend yields ModeUnknown.
func NewManager(backend Backend, applier Applier, iface string) *Manager {
	m := &Manager{
		backend:   backend,
		applier:   applier,
		iface:     iface,
		opTimeout: defaultOpTimeout,
		opMu:      newOpGuard(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	state, err := backend.Status(ctx)
	if err != nil {
		log.Printf("wifi: initial status unavailable: %v", err)
		state = State{Mode: ModeUnknown, Interface: iface}
	}
	if state.Interface == "" {
		state.Interface = iface
	}
	m.state = state
	return m
}

// Status reports the current state. The backend read is bounded: on
// timeout the live fields are dropped and the mode reported as Unknown
// rather than hanging the caller.
func (m *Manager) Status(ctx context.Context) State {
	m.mu.Lock()
	recorded := m.state
	m.mu.Unlock()

	// Transient modes are authoritative while an operation runs.
	if recorded.Mode == ModeScanning || recorded.Mode == ModeConnecting {
		return recorded
	}

	statusCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	live, err := m.backend.Status(statusCtx)
	if err != nil {
		if recorded.RebootRequired {
			return recorded
		}
		return State{Mode: ModeUnknown, Interface: m.iface}
	}
	if live.Interface == "" {
		live.Interface = m.iface
	}
	live.RebootRequired = recorded.RebootRequired
	if recorded.RebootRequired {
		// An intent has been recorded but not applied; report it.
		live.Mode = recorded.Mode
		live.SSID = recorded.SSID
	}

	m.mu.Lock()
	// An operation may have entered a transient mode while the backend
	// read was in flight; its state must not be overwritten or its
	// restore would be skipped.
	if m.state.Mode == ModeScanning || m.state.Mode == ModeConnecting {
		live = m.state
	} else {
		m.state = live
	}
	m.mu.Unlock()
	return live
}

// Scan lists visible networks. The mode transitions to Scanning for the
// duration and always returns to the prior mode, including on failure
// and watchdog timeout.
func (m *Manager) Scan(ctx context.Context) ([]Network, error) {
	if !m.opMu.tryAcquire() {
		return nil, ErrBusy
	}
	defer m.opMu.release()

	prior := m.setMode(ModeScanning)
	defer m.restoreMode(prior)

	scanCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	networks, err := m.backend.Scan(scanCtx)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			// Caller cancellation is not a backend failure.
			return nil, ctx.Err()
		case scanCtx.Err() == context.DeadlineExceeded:
			return nil, fmt.Errorf("%w: scan gave no result within %s", ErrOperationTimedOut, m.opTimeout)
		default:
			return nil, fmt.Errorf("%w: %v", ErrScanFailed, err)
		}
	}
	return networks, nil
}

// Connect records the intent to join the given network. Success means
// the configuration intent was accepted and a reboot is required; it
// does not mean the device is connected. Credentials are validated
// before any network I/O is attempted; connecting to the currently
// associated SSID is treated as a normal connect.
func (m *Manager) Connect(ctx context.Context, ssid, password string) (State, error) {
	if ssid == "" || password == "" {
		return State{}, ErrBadCredentials
	}
	if !m.opMu.tryAcquire() {
		return State{}, ErrBusy
	}
	defer m.opMu.release()

	prior := m.setMode(ModeConnecting)

	applyCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	err := m.applier.Apply(applyCtx, IntendedConfiguration{
		Mode:      ModeClient,
		SSID:      ssid,
		Password:  password,
		Interface: m.iface,
	})
	if err != nil {
		m.restoreMode(prior)
		switch {
		case ctx.Err() != nil:
			return State{}, ctx.Err()
		case applyCtx.Err() == context.DeadlineExceeded:
			return State{}, fmt.Errorf("%w: connect gave no result within %s", ErrOperationTimedOut, m.opTimeout)
		default:
			return State{}, fmt.Errorf("%w: %v", ErrConnectFailed, err)
		}
	}

	intended := State{
		Mode:           ModeClient,
		SSID:           ssid,
		Interface:      m.iface,
		RebootRequired: true,
	}
	m.mu.Lock()
	m.state = intended
	m.mu.Unlock()
	return intended, nil
}

// EnableAccessPoint records the intent to switch to access-point mode.
// The same intent-not-activation contract as Connect applies.
func (m *Manager) EnableAccessPoint(ctx context.Context) (State, error) {
	if !m.opMu.tryAcquire() {
		return State{}, ErrBusy
	}
	defer m.opMu.release()

	prior := m.setMode(ModeConnecting)

	applyCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	err := m.applier.Apply(applyCtx, IntendedConfiguration{
		Mode:      ModeAccessPoint,
		Interface: m.iface,
	})
	if err != nil {
		m.restoreMode(prior)
		switch {
		case ctx.Err() != nil:
			return State{}, ctx.Err()
		case applyCtx.Err() == context.DeadlineExceeded:
			return State{}, fmt.Errorf("%w: access point setup gave no result within %s", ErrOperationTimedOut, m.opTimeout)
		default:
			return State{}, fmt.Errorf("%w: %v", ErrConnectFailed, err)
		}
	}

	intended := State{
		Mode:           ModeAccessPoint,
		Interface:      m.iface,
		RebootRequired: true,
	}
	m.mu.Lock()
	m.state = intended
	m.mu.Unlock()
	return intended, nil
}

func (m *Manager) setMode(mode Mode) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	prior := m.state
	m.state.Mode = mode
	return prior
}

func (m *Manager) restoreMode(prior State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Only restore if nothing else overwrote the state meanwhile.
	if m.state.Mode == ModeScanning || m.state.Mode == ModeConnecting {
		m.state = prior
	}
}
