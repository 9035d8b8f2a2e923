package version

import (
	"time"

	"blackbird-libvirtd/internal/config"
	"blackbird-libvirtd/internal/system"
)

// Get reports the agent's build, the host inventory and the libvirtd version
// seen by the last cycle, which is empty before the first cycle completes.
func Get(cfg config.Config, libvirtdVersion string, host system.Info) *GetVersionResponse {
	return &GetVersionResponse{
		Hostname:        cfg.Hostname,
		Module:          cfg.Module,
		ModuleVersion:   cfg.AgentVersion,
		LibvirtdVersion: libvirtdVersion,
		StreamMode:      string(cfg.StreamMode),
		ProbeListenAddr: cfg.ProbeListenAddr,
		CheckedAtUnix:   time.Now().UTC().Unix(),
		Host:            host,
	}
}
