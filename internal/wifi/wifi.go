// Package wifi models the device's network mode: WiFi client, access
// point, or transiently scanning/connecting. Mode changes on this class
// of device require rewriting system network configuration and a reboot,
// so the manager only ever records an intended target and emits it to an
// Applier; "intent recorded" is deliberately distinct from "mode active".
package wifi

import (
	"context"
	"errors"
)

// Mode is the network operating mode. Exactly one is active at a time.
type Mode string

const (
	ModeUnknown     Mode = "unknown"
	ModeClient      Mode = "client"
	ModeAccessPoint Mode = "access_point"
	ModeScanning    Mode = "scanning"
	ModeConnecting  Mode = "connecting"
)

// State describes the current (or intended, see Manager) network state.
type State struct {
	Mode           Mode   `json:"mode"`
	SSID           string `json:"ssid,omitempty"`
	IPAddress      string `json:"ip_address,omitempty"`
	Interface      string `json:"interface"`
	RebootRequired bool   `json:"reboot_required"`
}

// Network is one entry of a scan result.
type Network struct {
	SSID          string `json:"ssid"`
	Encrypted     bool   `json:"encrypted"`
	SignalQuality int    `json:"signal_quality"`
}

// IntendedConfiguration is the value handed to the Applier. The manager
// never rewrites system files itself.
type IntendedConfiguration struct {
	Mode      Mode
	SSID      string
	Password  string
	Interface string
}

// Backend reads live system state. Implementations may shell out; every
// call honors its context deadline.
type Backend interface {
	Status(ctx context.Context) (State, error)
	Scan(ctx context.Context) ([]Network, error)
}

// Applier consumes an intended configuration, rewriting network-stack
// configuration and scheduling whatever restart is needed.
type Applier interface {
	Apply(ctx context.Context, cfg IntendedConfiguration) error
}

var (
	// ErrScanFailed reports a failed scan; the mode is unchanged.
	ErrScanFailed = errors.New("network scan failed")

	// ErrConnectFailed reports a failed connect or AP switch; the state
	// machine stays in its prior mode.
	ErrConnectFailed = errors.New("network configuration failed")

	// ErrOperationTimedOut means the watchdog fired before the backend
	// or applier responded; the prior mode is restored.
	ErrOperationTimedOut = errors.New("network operation timed out")

	// ErrBusy means another mode-mutating operation is in flight.
	ErrBusy = errors.New("another network operation is in progress")

	// ErrBadCredentials rejects connect requests before any network I/O.
	ErrBadCredentials = errors.New("ssid and password must be non-empty")
)
