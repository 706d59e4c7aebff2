package wifi

import (
	"context"
	"fmt"
	"log"
	"os/exec"
)

// ScriptApplier hands the intended configuration to the provisioning
// scripts that rewrite hostapd/wpa_supplicant configuration. The scripts
// themselves live outside this repository; only the invocation seam is
// modeled here.
type ScriptApplier struct {
	ClientScript      string // e.g. setup_wifi_client.sh
	AccessPointScript string // e.g. setup_access_point.sh
}

func (a *ScriptApplier) Apply(ctx context.Context, cfg IntendedConfiguration) error {
	var cmd *exec.Cmd
	switch cfg.Mode {
	case ModeClient:
		if a.ClientScript == "" {
			return fmt.Errorf("no client setup script configured")
		}
		cmd = exec.CommandContext(ctx, a.ClientScript, "--ssid", cfg.SSID, "--password", cfg.Password)
	case ModeAccessPoint:
		if a.AccessPointScript == "" {
			return fmt.Errorf("no access point setup script configured")
		}
		cmd = exec.CommandContext(ctx, a.AccessPointScript)
	default:
		return fmt.Errorf("cannot apply mode %q", cfg.Mode)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %v: %s", cmd.Path, err, out)
	}
	return nil
}

// LogApplier records intents without touching the system. It is the
// default when no provisioning scripts are configured, keeping the rest
// of the server usable on development machines.
type LogApplier struct{}

func (LogApplier) Apply(_ context.Context, cfg IntendedConfiguration) error {
	if cfg.Mode == ModeClient {
		log.Printf("wifi: would configure client mode for ssid %q on %s", cfg.SSID, cfg.Interface)
	} else {
		log.Printf("wifi: would configure %s mode on %s", cfg.Mode, cfg.Interface)
	}
	return nil
}
