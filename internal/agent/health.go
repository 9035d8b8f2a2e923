package agent

import (
	"sync/atomic"
	"time"
)

type HealthStatus struct {
	libvirtConnected atomic.Bool
	streamConnected  atomic.Bool
	lastCycleAt      atomic.Int64
	lastSendAt       atomic.Int64
	lastVersion      atomic.Value
}

func NewHealthStatus() *HealthStatus {
	h := &HealthStatus{}
	h.lastVersion.Store("")
	return h
}

func (h *HealthStatus) SetLibvirtConnected(ok bool) {
	h.libvirtConnected.Store(ok)
}

func (h *HealthStatus) SetStreamConnected(ok bool) {
	h.streamConnected.Store(ok)
}

func (h *HealthStatus) MarkCycle(ts time.Time, libvirtVersion string) {
	h.lastCycleAt.Store(ts.UnixNano())
	h.lastVersion.Store(libvirtVersion)
}

func (h *HealthStatus) MarkSend(ts time.Time) {
	h.lastSendAt.Store(ts.UnixNano())
}

// Ready reports whether at least one cycle ran and the last one reached libvirtd.
func (h *HealthStatus) Ready() bool {
	return h.lastCycleAt.Load() > 0 && h.libvirtConnected.Load()
}

func (h *HealthStatus) LibvirtdVersion() string {
	v, _ := h.lastVersion.Load().(string)
	return v
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"libvirt_connected": h.libvirtConnected.Load(),
		"stream_connected":  h.streamConnected.Load(),
		"libvirtd_version":  h.LibvirtdVersion(),
	}
	if v := h.lastCycleAt.Load(); v > 0 {
		out["last_cycle_at"] = time.Unix(0, v).UTC()
	}
	if v := h.lastSendAt.Load(); v > 0 {
		out["last_send_at"] = time.Unix(0, v).UTC()
	}
	return out
}
