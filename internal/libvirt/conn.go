package libvirt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

// disconnectGrace bounds the polite ConnectClose before the socket is dropped.
const disconnectGrace = 500 * time.Millisecond

var errConnAborted = errors.New("libvirt connection aborted")

// HostInfo is the host capability part of virNodeInfo.
type HostInfo struct {
	CPUs      uint64
	MemoryKiB uint64
	MHz       uint64
}

// DomainInfo mirrors virDomainGetInfo for one active domain.
type DomainInfo struct {
	ID        int32
	Name      string
	State     uint8
	MaxMemKiB uint64
	MemoryKiB uint64
	VCPUs     uint16
	CPUTimeNs uint64
}

// Session is a read-only view of one libvirtd connection. Close is safe to call
// more than once and unblocks any query still in flight.
type Session interface {
	HostInfo() (HostInfo, error)
	ActiveDomainIDs() ([]int32, error)
	DomainInfo(id int32) (DomainInfo, error)
	Close() error
}

// Dialer opens one read-only session per collection cycle against the libvirtd
// read-only socket. Nothing is pooled across cycles.
type Dialer struct {
	socket      string
	uri         golibvirt.ConnectURI
	dialTimeout time.Duration
	logger      *slog.Logger
}

func NewDialer(socketPath, uri string, dialTimeout time.Duration, logger *slog.Logger) (*Dialer, error) {
	driver, err := parseURI(uri)
	if err != nil {
		return nil, err
	}
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &Dialer{
		socket:      socketPath,
		uri:         driver,
		dialTimeout: dialTimeout,
		logger:      logger,
	}, nil
}

// Open dials the socket and runs the auth and ConnectOpen handshake. The whole
// handshake is bounded by ctx and the dial timeout; a daemon that accepts but
// never answers gets its connection closed.
func (d *Dialer) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	openCtx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()

	conn := &abortableDialer{inner: dialers.NewLocal(
		dialers.WithSocket(d.socket),
		dialers.WithLocalTimeout(d.dialTimeout),
	)}
	client := golibvirt.NewWithDialer(conn)

	done := make(chan error, 1)
	go func() { done <- client.ConnectToURI(d.uri) }()

	select {
	case err := <-done:
		if err != nil {
			conn.abort()
			return nil, fmt.Errorf("connect %s via %s: %w", d.uri, d.socket, err)
		}
	case <-openCtx.Done():
		conn.abort()
		return nil, fmt.Errorf("connect %s via %s: %w", d.uri, d.socket, openCtx.Err())
	}
	d.logger.Debug("libvirt connected", "socket", d.socket, "uri", string(d.uri))
	return &session{client: client, conn: conn, logger: d.logger}, nil
}

// abortableDialer keeps the raw connection so it can be closed from outside
// go-libvirt. Closing it fails every pending RPC with ErrInterrupted.
type abortableDialer struct {
	inner socket.Dialer

	mu      sync.Mutex
	conn    net.Conn
	aborted bool
}

func (a *abortableDialer) Dial() (net.Conn, error) {
	c, err := a.inner.Dial()
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.aborted {
		_ = c.Close()
		return nil, errConnAborted
	}
	a.conn = c
	return c, nil
}

func (a *abortableDialer) abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aborted = true
	if a.conn != nil {
		_ = a.conn.Close()
	}
}

type session struct {
	client *golibvirt.Libvirt
	conn   *abortableDialer
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (s *session) HostInfo() (HostInfo, error) {
	_, memoryKiB, cpus, mhz, _, _, _, _, err := s.client.NodeGetInfo()
	if err != nil {
		return HostInfo{}, fmt.Errorf("NodeGetInfo: %w", err)
	}
	return HostInfo{CPUs: nonNegative(cpus), MemoryKiB: memoryKiB, MHz: nonNegative(mhz)}, nil
}

func (s *session) ActiveDomainIDs() ([]int32, error) {
	n, err := s.client.ConnectNumOfDomains()
	if err != nil {
		return nil, fmt.Errorf("ConnectNumOfDomains: %w", err)
	}
	if n <= 0 {
		return []int32{}, nil
	}
	ids, err := s.client.ConnectListDomains(n)
	if err != nil {
		return nil, fmt.Errorf("ConnectListDomains: %w", err)
	}
	return ids, nil
}

func (s *session) DomainInfo(id int32) (DomainInfo, error) {
	dom, err := s.client.DomainLookupByID(id)
	if err != nil {
		return DomainInfo{}, fmt.Errorf("DomainLookupByID %d: %w", id, err)
	}
	state, maxMem, mem, vcpus, cpuTime, err := s.client.DomainGetInfo(dom)
	if err != nil {
		return DomainInfo{}, fmt.Errorf("DomainGetInfo %s: %w", dom.Name, err)
	}
	return DomainInfo{
		ID:        id,
		Name:      dom.Name,
		State:     state,
		MaxMemKiB: maxMem,
		MemoryKiB: mem,
		VCPUs:     vcpus,
		CPUTimeNs: cpuTime,
	}, nil
}

// Close sends ConnectClose and waits up to disconnectGrace for it, then drops
// the socket regardless.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- s.client.Disconnect() }()
		select {
		case s.closeErr = <-done:
		case <-time.After(disconnectGrace):
			s.closeErr = errors.New("libvirt disconnect timed out")
		}
		s.conn.abort()
		if s.closeErr != nil {
			s.logger.Warn("libvirt disconnect failed", "error", s.closeErr)
		}
	})
	return s.closeErr
}

func parseURI(raw string) (golibvirt.ConnectURI, error) {
	if raw == "" {
		return golibvirt.QEMUSystem, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse libvirt uri %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return "", errors.New("libvirt uri needs a driver scheme, e.g. qemu:///system")
	}
	return golibvirt.ConnectURI(raw), nil
}

func nonNegative(v int32) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
