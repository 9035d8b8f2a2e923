package system

import (
	"os"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/host"
)

// Info is the static host inventory reported on /version.
type Info struct {
	Hostname             string `json:"hostname,omitempty"`
	OS                   string `json:"os,omitempty"`
	Platform             string `json:"platform,omitempty"`
	PlatformVersion      string `json:"platform_version,omitempty"`
	KernelVersion        string `json:"kernel_version,omitempty"`
	KernelArch           string `json:"kernel_arch,omitempty"`
	VirtualizationSystem string `json:"virtualization_system,omitempty"`
	VirtualizationRole   string `json:"virtualization_role,omitempty"`
	BootTime             uint64 `json:"boot_time,omitempty"`
}

// Describe scans the host once per process; the inventory does not change
// while the agent runs.
var Describe = sync.OnceValues(describe)

func describe() (Info, error) {
	st, err := host.Info()
	if err != nil {
		return Info{}, err
	}
	return fromStat(st), nil
}

func fromStat(st *host.InfoStat) Info {
	return Info{
		Hostname:             strings.TrimSpace(st.Hostname),
		OS:                   st.OS,
		Platform:             st.Platform,
		PlatformVersion:      st.PlatformVersion,
		KernelVersion:        st.KernelVersion,
		KernelArch:           st.KernelArch,
		VirtualizationSystem: st.VirtualizationSystem,
		VirtualizationRole:   st.VirtualizationRole,
		BootTime:             st.BootTime,
	}
}

// Hostname returns the kernel host name, then the inventory's, then "localhost".
func Hostname() string {
	if h, err := os.Hostname(); err == nil && strings.TrimSpace(h) != "" {
		return strings.TrimSpace(h)
	}
	if info, err := Describe(); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	return "localhost"
}
