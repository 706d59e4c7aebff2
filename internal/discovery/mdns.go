// Package discovery announces the camera server on the local network via
// mDNS/DNS-SD so companion software can find the device without knowing
// its address.
package discovery

import (
	"fmt"
	"log"

	"github.com/enbility/zeroconf/v2"
)

const (
	serviceType = "_holocam._tcp"
	domain      = "local."
)

// Announcer keeps one mDNS registration alive.
type Announcer struct {
	server *zeroconf.Server
}

// Announce registers the service under the given instance name on all
// interfaces. The returned Announcer must be Shutdown on exit so the
// record is withdrawn instead of lingering until TTL expiry.
func Announce(instance string, port int, version string) (*Announcer, error) {
	txt := []string{
		"version=" + version,
		"api=http",
	}
	server, err := zeroconf.Register(instance, serviceType, domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	log.Printf("discovery: announced %q as %s on port %d", instance, serviceType, port)
	return &Announcer{server: server}, nil
}

func (a *Announcer) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
}
