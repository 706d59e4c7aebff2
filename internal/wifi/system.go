package wifi

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SystemBackend reads WiFi state through the usual wireless-tools
// commands: iwgetid for the associated SSID, ip for the interface
// address, systemctl for hostapd, and iwlist for scanning.
type SystemBackend struct {
	Interface string

	// run is swapped out in tests.
	run func(ctx context.Context, name string, args ...string) (string, error)
}

func NewSystemBackend(iface string) *SystemBackend {
	return &SystemBackend{
		Interface: iface,
		run:       runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

func (b *SystemBackend) Status(ctx context.Context) (State, error) {
	state := State{Interface: b.Interface}

	hostapd, err := b.run(ctx, "systemctl", "is-active", "hostapd")
	if err == nil && strings.TrimSpace(hostapd) == "active" {
		state.Mode = ModeAccessPoint
	} else {
		state.Mode = ModeClient
		if ssid, err := b.run(ctx, "iwgetid", "-r"); err == nil {
			state.SSID = strings.TrimSpace(ssid)
		}
	}

	ipOut, err := b.run(ctx, "ip", "addr", "show", b.Interface)
	if err != nil {
		return state, ctx.Err()
	}
	state.IPAddress = parseInterfaceAddr(ipOut)

	if ctx.Err() != nil {
		return State{}, ctx.Err()
	}
	return state, nil
}

func (b *SystemBackend) Scan(ctx context.Context) ([]Network, error) {
	// First invocation triggers the scan, second collects results.
	_, _ = b.run(ctx, "iwlist", b.Interface, "scan")
	out, err := b.run(ctx, "iwlist", b.Interface, "scan")
	if err != nil {
		return nil, fmt.Errorf("iwlist scan: %w", err)
	}
	return parseScanOutput(out), nil
}

// parseInterfaceAddr extracts the first non-loopback IPv4 address from
// `ip addr show` output.
func parseInterfaceAddr(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "inet ") || strings.Contains(line, "127.0.0.1") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		addr := fields[1]
		if i := strings.IndexByte(addr, '/'); i >= 0 {
			addr = addr[:i]
		}
		return addr
	}
	return ""
}

// parseScanOutput turns iwlist cell output into deduplicated networks.
func parseScanOutput(out string) []Network {
	var networks []Network
	var current *Network
	flush := func() {
		if current != nil && current.SSID != "" {
			networks = append(networks, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.Contains(line, "Cell ") && strings.Contains(line, "Address:"):
			flush()
			current = &Network{}
		case strings.HasPrefix(line, "ESSID:"):
			if current != nil {
				current.SSID = strings.Trim(strings.TrimPrefix(line, "ESSID:"), `"`)
			}
		case strings.HasPrefix(line, "Quality="):
			if current != nil {
				current.SignalQuality = parseQuality(line)
			}
		case strings.HasPrefix(line, "Encryption key:"):
			if current != nil {
				current.Encrypted = strings.Contains(line, "on")
			}
		}
	}
	flush()

	seen := make(map[string]bool, len(networks))
	unique := networks[:0]
	for _, n := range networks {
		if seen[n.SSID] {
			continue
		}
		seen[n.SSID] = true
		unique = append(unique, n)
	}
	return unique
}

// parseQuality converts "Quality=58/70  Signal level=..." into a 0-100
// percentage.
func parseQuality(line string) int {
	value := strings.TrimPrefix(line, "Quality=")
	if i := strings.IndexByte(value, ' '); i >= 0 {
		value = value[:i]
	}
	parts := strings.SplitN(value, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.Atoi(parts[0])
	den, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num * 100 / den
}
