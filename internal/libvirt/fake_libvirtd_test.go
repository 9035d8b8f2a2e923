package libvirt

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"testing"
)

// Remote program procedure numbers used by a collection cycle.
const (
	procConnectOpen         = 1
	procConnectClose        = 2
	procNodeGetInfo         = 6
	procDomainGetInfo       = 16
	procDomainLookupByID    = 22
	procConnectListDomains  = 37
	procConnectNumOfDomains = 51
	procAuthList            = 66
)

const (
	rpcHeaderLen   = 28
	rpcTypeReply   = 1
	rpcStatusError = 1
)

// rpcReply is the body of one answer; ok=false leaves the call unanswered.
type rpcReply struct {
	body   []byte
	status uint32
	ok     bool
}

type replyFunc func(proc uint32, args []byte) rpcReply

// serveFakeLibvirtd listens on a unix socket and answers libvirt RPC calls
// with reply. It returns the socket path.
func serveFakeLibvirtd(t *testing.T, reply replyFunc) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen %s: %v", path, err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handleRPC(conn, reply)
		}
	}()
	return path
}

func handleRPC(conn net.Conn, reply replyFunc) {
	defer conn.Close()
	hdr := make([]byte, rpcHeaderLen)
	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return
		}
		length := binary.BigEndian.Uint32(hdr[0:4])
		args := make([]byte, int(length)-rpcHeaderLen)
		if _, err := io.ReadFull(conn, args); err != nil {
			return
		}
		r := reply(binary.BigEndian.Uint32(hdr[12:16]), args)
		if !r.ok {
			continue
		}
		out := make([]byte, rpcHeaderLen, rpcHeaderLen+len(r.body))
		// program, version, procedure and serial are echoed back.
		copy(out[4:24], hdr[4:24])
		binary.BigEndian.PutUint32(out[16:20], rpcTypeReply)
		binary.BigEndian.PutUint32(out[24:28], r.status)
		out = append(out, r.body...)
		binary.BigEndian.PutUint32(out[0:4], uint32(len(out)))
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

type xdrWriter struct{ bytes.Buffer }

func (w *xdrWriter) u32(v uint32) *xdrWriter {
	_ = binary.Write(&w.Buffer, binary.BigEndian, v)
	return w
}

func (w *xdrWriter) i32(v int32) *xdrWriter {
	return w.u32(uint32(v))
}

func (w *xdrWriter) u64(v uint64) *xdrWriter {
	_ = binary.Write(&w.Buffer, binary.BigEndian, v)
	return w
}

func (w *xdrWriter) str(s string) *xdrWriter {
	w.u32(uint32(len(s)))
	w.WriteString(s)
	if pad := (4 - len(s)%4) % 4; pad > 0 {
		w.Write(make([]byte, pad))
	}
	return w
}

func okReply(w *xdrWriter) rpcReply {
	if w == nil {
		return rpcReply{ok: true}
	}
	return rpcReply{body: w.Bytes(), ok: true}
}

func errReply(code uint32, msg string) rpcReply {
	w := &xdrWriter{}
	w.u32(code).u32(0).u32(0).str(msg).u32(2)
	return rpcReply{body: w.Bytes(), status: rpcStatusError, ok: true}
}

type fakeNode struct {
	memoryKiB uint64
	cpus      int32
	mhz       int32
}

type fakeDomain struct {
	name      string
	state     uint32
	maxMemKiB uint64
	memKiB    uint64
	vcpus     uint32
	cpuTimeNs uint64
}

// handshakeReplies answers auth and connect, and nothing else.
func handshakeReplies(proc uint32, _ []byte) rpcReply {
	switch proc {
	case procAuthList:
		// One entry: REMOTE_AUTH_NONE.
		return okReply((&xdrWriter{}).u32(1).i32(0))
	case procConnectOpen, procConnectClose:
		return okReply(nil)
	}
	return rpcReply{}
}

// daemonReplies serves a host with the given node info and active domains.
func daemonReplies(node fakeNode, domains map[int32]fakeDomain, order []int32) replyFunc {
	return func(proc uint32, args []byte) rpcReply {
		switch proc {
		case procNodeGetInfo:
			w := &xdrWriter{}
			model := "x86_64"
			for i := 0; i < 32; i++ {
				var ch int32
				if i < len(model) {
					ch = int32(model[i])
				}
				w.i32(ch)
			}
			w.u64(node.memoryKiB).i32(node.cpus).i32(node.mhz)
			w.i32(1).i32(1).i32(node.cpus).i32(1)
			return okReply(w)
		case procConnectNumOfDomains:
			return okReply((&xdrWriter{}).i32(int32(len(order))))
		case procConnectListDomains:
			w := (&xdrWriter{}).u32(uint32(len(order)))
			for _, id := range order {
				w.i32(id)
			}
			return okReply(w)
		case procDomainLookupByID:
			id := int32(binary.BigEndian.Uint32(args[0:4]))
			dom, ok := domains[id]
			if !ok {
				return errReply(42, "Domain not found: no domain with matching id")
			}
			w := (&xdrWriter{}).str(dom.name)
			w.Write(make([]byte, 16))
			w.i32(id)
			return okReply(w)
		case procDomainGetInfo:
			// The Domain argument ends with its int32 id.
			id := int32(binary.BigEndian.Uint32(args[len(args)-4:]))
			dom := domains[id]
			w := (&xdrWriter{}).u32(dom.state).u64(dom.maxMemKiB).u64(dom.memKiB).u32(dom.vcpus).u64(dom.cpuTimeNs)
			return okReply(w)
		}
		return handshakeReplies(proc, args)
	}
}
