package collector

import (
	"context"
	"fmt"
	"log/slog"

	"blackbird-libvirtd/internal/libvirt"
	"blackbird-libvirtd/internal/model"
)

type domainsResult struct {
	records []model.Record
	vmCount uint64
	err     error
}

// probeDomains reads host capability and per-domain info from the daemon. The
// returned records are complete or absent: any error discards the whole probe.
func (c *Collector) probeDomains(ctx context.Context, logger *slog.Logger) ([]model.Record, uint64, error) {
	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sess, err := c.daemon.Open(qctx)
	if err != nil {
		logger.Error("can not connect to libvirtd", "error", err)
		return nil, 0, fmt.Errorf("open libvirt session: %w", err)
	}

	done := make(chan domainsResult, 1)
	go func() {
		records, n, err := c.gatherDomains(sess, logger)
		done <- domainsResult{records: records, vmCount: n, err: err}
	}()

	select {
	case res := <-done:
		_ = sess.Close()
		if res.err != nil {
			logger.Error("libvirt metrics probe failed", "error", res.err)
			return nil, 0, res.err
		}
		return res.records, res.vmCount, nil
	case <-qctx.Done():
		// Closing the session unblocks the gathering goroutine.
		_ = sess.Close()
		err := fmt.Errorf("%w: %w", errDaemonTimeout, qctx.Err())
		logger.Error("libvirt metrics probe aborted", "timeout", c.timeout, "error", err)
		return nil, 0, err
	}
}

func (c *Collector) gatherDomains(sess libvirt.Session, logger *slog.Logger) ([]model.Record, uint64, error) {
	mod := c.cctx.Module

	host, err := sess.HostInfo()
	if err != nil {
		return nil, 0, err
	}
	records := []model.Record{
		c.record(model.Key(mod, "total", "cpu"), host.CPUs),
		// total.memory is MiB, used.memory is KiB.
		c.record(model.Key(mod, "total", "memory"), host.MemoryKiB>>10),
	}

	ids, err := sess.ActiveDomainIDs()
	if err != nil {
		return nil, 0, err
	}

	var (
		usedCPU uint64
		usedMem uint64
		vmCount uint64
		tally   model.VMStateTally
	)
	for _, id := range ids {
		info, err := sess.DomainInfo(id)
		if err != nil {
			// The domain may have stopped between listing and lookup.
			logger.Warn("skipping domain", "domain_id", id, "error", err)
			continue
		}
		state, err := model.ParseVMState(info.State)
		if err != nil {
			return nil, 0, fmt.Errorf("domain %q (id %d): %w", info.Name, info.ID, err)
		}
		vmCount++
		usedCPU += uint64(info.VCPUs)
		usedMem += info.MemoryKiB
		tally.Add(state)
	}

	records = append(records,
		c.record(model.Key(mod, "used", "cpu"), usedCPU),
		c.record(model.Key(mod, "used", "memory"), usedMem),
		c.record(model.Key(mod, "vm", "number", "total"), vmCount),
	)
	for _, s := range model.VMStates() {
		records = append(records, c.record(model.Key(mod, "vm", s.String(), "number"), tally.Count(s)))
	}
	return records, vmCount, nil
}
