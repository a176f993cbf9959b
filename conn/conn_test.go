// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package conn

import (
	"context"
	"io"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	resolve "github.com/owasp-amass/tunresolve"
	"github.com/owasp-amass/tunresolve/codec"
	"github.com/owasp-amass/tunresolve/loop"
	"github.com/owasp-amass/tunresolve/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func typeAHandler(w dns.ResponseWriter, req *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(req)

	m.Answer = make([]dns.RR, 1)
	m.Answer[0] = &dns.A{
		Hdr: dns.RR_Header{
			Name:   m.Question[0].Name,
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    0,
		},
		A: net.ParseIP("192.168.1.1"),
	}
	_ = w.WriteMsg(m)
}

func RunLocalUDPServer(laddr string, opts ...func(*dns.Server)) (*dns.Server, string, chan error, error) {
	pc, err := net.ListenPacket("udp", laddr)
	if err != nil {
		return nil, "", nil, err
	}
	return RunLocalServer(pc, nil, opts...)
}

func RunLocalServer(pc net.PacketConn, l net.Listener, opts ...func(*dns.Server)) (*dns.Server, string, chan error, error) {
	server := &dns.Server{
		PacketConn: pc,
		Listener:   l,

		ReadTimeout:  time.Hour,
		WriteTimeout: time.Hour,
	}

	waitLock := sync.Mutex{}
	waitLock.Lock()
	server.NotifyStartedFunc = waitLock.Unlock

	for _, opt := range opts {
		opt(server)
	}

	var (
		addr   string
		closer io.Closer
	)
	if l != nil {
		addr = l.Addr().String()
		closer = l
	} else {
		addr = pc.LocalAddr().String()
		closer = pc
	}
	// fin must be buffered so the goroutine below won't block
	// forever if fin is never read from. This always happens
	// if the channel is discarded and can happen in TestShutdownUDP.
	fin := make(chan error, 1)

	go func() {
		fin <- server.ActivateAndServe()
		closer.Close()
	}()

	waitLock.Lock()
	return server, addr, fin, nil
}

type event struct {
	kind string
	id   types.ConnID
	data []byte
}

type recorder struct {
	events chan event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan event, 16)}
}

func (r *recorder) OnAcceptConfirmed(id types.ConnID) { r.events <- event{kind: "accept", id: id} }
func (r *recorder) OnConnectFailed(id types.ConnID)   { r.events <- event{kind: "failed", id: id} }
func (r *recorder) OnCloseConfirmed(id types.ConnID)  { r.events <- event{kind: "closed", id: id} }

func (r *recorder) OnWireData(id types.ConnID, data []byte) (int, error) {
	r.events <- event{kind: "data", id: id, data: data}
	return len(data), nil
}

func (r *recorder) next(t *testing.T) event {
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a host event")
	}
	return event{}
}

func connectRequest(id types.ConnID) types.ConnectRequest {
	return types.ConnectRequest{
		ID:       id,
		Protocol: types.ProtocolUDP,
		Source:   netip.MustParseAddrPort("127.0.0.11:1"),
		Dest:     netip.MustParseAddrPort("192.0.2.53:53"),
		AppName:  resolve.DefaultAppName,
	}
}

func setupHost(t *testing.T, opts Options) (*Host, *recorder, *loop.Loop) {
	l := loop.New(zaptest.NewLogger(t))
	t.Cleanup(l.Stop)

	opts.Logger = zaptest.NewLogger(t)
	h := New(l, opts)
	t.Cleanup(h.Close)

	rec := newRecorder()
	h.SetListener(rec)
	return h, rec, l
}

func TestHostExchange(t *testing.T) {
	dns.HandleFunc("caffix.net.", typeAHandler)
	defer dns.HandleRemove("caffix.net.")

	s, addrstr, _, err := RunLocalUDPServer("127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = s.Shutdown() }()

	h, rec, l := setupHost(t, Options{Upstream: addrstr})
	require.NoError(t, l.Do(context.Background(), func() { h.RequestConnect(connectRequest(1)) }))

	ev := rec.next(t)
	require.Equal(t, "accept", ev.kind)
	require.Equal(t, types.ConnID(1), ev.id)
	require.Equal(t, 1, h.Len())

	id, query, err := codec.New().EncodeQuery(types.RecordTypeA, "caffix.net")
	require.NoError(t, err)

	var n int
	require.NoError(t, l.Do(context.Background(), func() { n = h.RequestWrite(1, query) }))
	require.Zero(t, n)

	require.NoError(t, l.Do(context.Background(), func() {
		h.NotifyAccepted(1)
		n = h.RequestWrite(1, query)
	}))
	require.Equal(t, len(query), n)

	ev = rec.next(t)
	require.Equal(t, "data", ev.kind)
	p, err := codec.New().Decode(ev.data)
	require.NoError(t, err)
	require.Equal(t, types.PacketReply, p.Kind)
	require.Equal(t, id, p.ID)
	require.Equal(t, []netip.Addr{netip.MustParseAddr("192.168.1.1")}, p.Addrs)

	require.NoError(t, l.Do(context.Background(), func() {
		h.NotifyClosed(1, true)
		n = h.RequestWrite(1, query)
	}))
	require.Zero(t, n)
	require.Zero(t, h.Len())
}

func TestHostCloseDuringDial(t *testing.T) {
	s, addrstr, _, err := RunLocalUDPServer("127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = s.Shutdown() }()

	h, _, l := setupHost(t, Options{Upstream: addrstr})
	require.NoError(t, l.Do(context.Background(), func() {
		for i := 1; i <= 10; i++ {
			h.RequestConnect(connectRequest(types.ConnID(i)))
		}
	}))
	h.Close()

	require.Eventually(t, func() bool { return h.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Never(t, func() bool { return h.Len() != 0 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestHostUnsupportedProtocol(t *testing.T) {
	h, rec, _ := setupHost(t, Options{})

	req := connectRequest(3)
	req.Protocol = types.Protocol(6)
	h.RequestConnect(req)

	ev := rec.next(t)
	require.Equal(t, "failed", ev.kind)
	require.Equal(t, types.ConnID(3), ev.id)
}

func TestHostDialFailure(t *testing.T) {
	h, rec, _ := setupHost(t, Options{Upstream: "not a valid address"})

	h.RequestConnect(connectRequest(4))
	ev := rec.next(t)
	require.Equal(t, "failed", ev.kind)
	require.Equal(t, types.ConnID(4), ev.id)
}

func TestHostWriteRate(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	h, rec, l := setupHost(t, Options{Upstream: pc.LocalAddr().String(), WriteQPS: 1})
	h.RequestConnect(connectRequest(5))
	require.Equal(t, "accept", rec.next(t).kind)

	data := make([]byte, 32)
	var first, second int
	require.NoError(t, l.Do(context.Background(), func() {
		h.NotifyAccepted(5)
		first = h.RequestWrite(5, data)
		second = h.RequestWrite(5, data)
	}))
	require.Equal(t, len(data), first)
	require.Zero(t, second)
}

func TestHostResolver(t *testing.T) {
	dns.HandleFunc("example.com.", typeAHandler)
	defer dns.HandleRemove("example.com.")

	s, addrstr, _, err := RunLocalUDPServer("127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = s.Shutdown() }()

	l := loop.New(zaptest.NewLogger(t))
	defer l.Stop()
	h := New(l, Options{Logger: zaptest.NewLogger(t), Upstream: addrstr})
	defer h.Close()

	r, err := resolve.New(resolve.Config{Logger: zaptest.NewLogger(t)}, h, codec.New(), l)
	require.NoError(t, err)
	h.SetListener(r)

	results := make(chan types.Result, 1)
	require.NoError(t, l.Do(context.Background(), func() {
		r.Resolve(types.Foreground, "example.com", types.NewRecordTypeSet(types.RecordTypeA), func(_ types.ResolveID, res types.Result) {
			results <- res
		})
	}))

	select {
	case res := <-results:
		require.NoError(t, res.Err)
		require.Equal(t, netip.MustParseAddr("192.168.1.1"), res.Addr)
	case <-time.After(5 * time.Second):
		t.Fatal("the resolver did not deliver a result")
	}
}
