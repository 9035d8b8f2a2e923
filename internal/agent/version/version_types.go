package version

import "blackbird-libvirtd/internal/system"

type GetVersionResponse struct {
	Hostname        string `json:"hostname"`
	Module          string `json:"module"`
	ModuleVersion   string `json:"module_version"`
	LibvirtdVersion string `json:"libvirtd_version"`
	StreamMode      string `json:"stream_mode"`
	ProbeListenAddr string `json:"probe_listen_addr"`
	CheckedAtUnix   int64  `json:"checked_at_unix"`

	Host system.Info `json:"host"`
}
