package session_test

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/meshlink/lib/config"
	"github.com/go-i2p/meshlink/lib/engine"
	merrors "github.com/go-i2p/meshlink/lib/errors"
	"github.com/go-i2p/meshlink/lib/metrics"
	"github.com/go-i2p/meshlink/lib/peers"
	"github.com/go-i2p/meshlink/lib/resilience"
	"github.com/go-i2p/meshlink/lib/session"
	"github.com/go-i2p/meshlink/lib/testutil"
	"github.com/go-i2p/meshlink/lib/tunnel"
	"github.com/go-i2p/meshlink/lib/validation"
	"github.com/go-i2p/meshlink/version"
	"golang.zx2c4.com/wireguard/tun"
)

const waitTimeout = 2 * time.Second

const (
	primary   = "127.0.0.1:29872"
	secondary = "127.0.0.2:29872"
)

func testConfig(t *testing.T, servers ...string) *config.Config {
	t.Helper()
	if len(servers) == 0 {
		servers = []string{primary}
	}
	opts := config.DefaultOptions()
	opts.Token = "net"
	opts.Name = "test"
	opts.DeviceID = "dev-1"
	opts.Servers = servers
	cfg, err := config.Parse(*opts)
	require.NoError(t, err)
	return cfg
}

type fixture struct {
	session  *session.Session
	engine   *testutil.MockEngine
	recorder *testutil.Recorder
	provider *testutil.FakeProvider
}

func newFixture(t *testing.T, setup func(f *fixture), opts ...session.Option) *fixture {
	t.Helper()
	f := &fixture{
		engine:   testutil.NewMockEngine(),
		recorder: testutil.NewRecorder(),
		provider: &testutil.FakeProvider{},
	}
	cfg := testConfig(t)
	if setup != nil {
		setup(f)
	}

	base := []session.Option{
		session.WithPlatform(tunnel.Desktop),
		session.WithDeviceProvider(f.provider),
		session.WithBackoff(resilience.Backoff{MaxAttempts: 3}),
	}
	s, err := session.New(cfg, f.recorder, f.engine.Factory(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	f.session = s
	return f
}

func (f *fixture) waitFor(t *testing.T, kind session.EventKind) session.Event {
	t.Helper()
	ev, ok := f.recorder.WaitFor(kind, 1, waitTimeout)
	require.True(t, ok, "timed out waiting for %s", kind)
	return ev
}

func (f *fixture) waitActive(t *testing.T) engine.Sink {
	t.Helper()
	f.waitFor(t, session.EventConnected)
	sink := f.engine.WaitRunning(waitTimeout)
	require.NotNil(t, sink, "engine never ran")
	return sink
}

func (f *fixture) waitEnded(t *testing.T) session.StoppedEvent {
	t.Helper()
	require.True(t, f.session.WaitTimeout(waitTimeout), "session did not end")
	ev := f.waitFor(t, session.EventStopped)
	return ev.(session.StoppedEvent)
}

func TestSession_EventOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.waitActive(t)
	assert.Equal(t, session.StateActive, f.session.State())

	f.session.Stop()
	stopped := f.waitEnded(t)

	assert.Equal(t, []session.EventKind{
		session.EventConnect,
		session.EventHandshake,
		session.EventRegister,
		session.EventDeviceCreated,
		session.EventConnected,
		session.EventStopped,
	}, f.recorder.Kinds())
	assert.Equal(t, session.StateStopped, stopped.State)
	assert.NoError(t, stopped.Err)
	assert.Equal(t, session.StateStopped, f.session.State())
}

func TestSession_EventPayloads(t *testing.T) {
	f := newFixture(t, nil)
	f.waitActive(t)

	connect := f.recorder.Events()[0].(session.ConnectEvent)
	assert.Equal(t, primary, connect.Server)
	assert.Equal(t, netip.MustParseAddrPort(primary), connect.Address)
	assert.Equal(t, 1, connect.Count)

	handshake := f.waitFor(t, session.EventHandshake).(session.HandshakeEvent)
	assert.Equal(t, version.Protocol, handshake.Version)
	assert.Empty(t, handshake.PublicKey)

	register := f.waitFor(t, session.EventRegister).(session.RegisterEvent)
	assert.Equal(t, testutil.DefaultVirtualIP, register.VirtualIP)
	assert.Equal(t, testutil.DefaultNetmask, register.Netmask)
	assert.Equal(t, testutil.DefaultGateway, register.Gateway)

	created := f.waitFor(t, session.EventDeviceCreated).(session.DeviceCreatedEvent)
	assert.Equal(t, tunnel.DefaultName, created.Name)

	connected := f.waitFor(t, session.EventConnected).(session.ConnectedEvent)
	assert.Equal(t, testutil.DefaultVirtualIP, connected.VirtualIP)

	status := f.session.Status()
	assert.Equal(t, session.StateActive, status.State)
	assert.Equal(t, testutil.DefaultVirtualIP, status.VirtualIP)
	assert.Equal(t, netip.MustParsePrefix("10.26.0.0/24"), status.Network)
	assert.Equal(t, netip.MustParseAddrPort(primary), status.Server)
	assert.Equal(t, version.Protocol, status.ServerVersion)
	assert.False(t, status.StartedAt.IsZero())

	reqs := f.engine.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "net", reqs[0].Token)
	assert.Equal(t, "dev-1", reqs[0].DeviceID)
	assert.Equal(t, version.Client(), reqs[0].ClientVersion)
}

func TestSession_HandshakeRejected(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.recorder.AcceptHandshake = false
	})
	stopped := f.waitEnded(t)

	assert.Equal(t, session.StateFailed, stopped.State)
	assert.ErrorIs(t, stopped.Err, merrors.ErrPolicyRejected)
	assert.Equal(t, 1, f.recorder.Count(session.EventStopped))
	assert.Zero(t, f.recorder.Count(session.EventRegister))
	assert.Zero(t, f.recorder.Count(session.EventError))
	assert.Empty(t, f.engine.Requests(), "no registration after a rejected handshake")
	assert.Equal(t, 1, f.engine.Closes())
}

func TestSession_RegisterRejected(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.recorder.AcceptRegister = false
	})
	stopped := f.waitEnded(t)

	assert.Equal(t, session.StateFailed, stopped.State)
	assert.ErrorIs(t, stopped.Err, merrors.ErrPolicyRejected)
	assert.Zero(t, f.recorder.Count(session.EventDeviceCreated))
	assert.Zero(t, f.recorder.Count(session.EventError))
	assert.Empty(t, f.provider.Specs(), "no device after a rejected registration")
}

func TestSession_RegistrationFault(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.engine.RegisterFunc = func(context.Context, engine.RegisterRequest) (*engine.Registration, error) {
			return nil, merrors.NewFault(merrors.AddressExhausted, "pool 10.26.0.0/24 is full")
		}
	})
	stopped := f.waitEnded(t)

	assert.Equal(t, session.StateFailed, stopped.State)
	ev := f.waitFor(t, session.EventError).(session.ErrorEvent)
	assert.Equal(t, merrors.AddressExhausted, ev.Fault)
	assert.Equal(t, "pool 10.26.0.0/24 is full", ev.Detail)
	assert.Equal(t, 1, f.recorder.Count(session.EventError))
}

func TestSession_ListBeforeRefresh(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.engine.ConnectFunc = func(ctx context.Context, _ netip.AddrPort) (*engine.HandshakeInfo, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
	})

	list := f.session.List()
	assert.NotNil(t, list)
	assert.Empty(t, list)

	f.session.Stop()
	stopped := f.waitEnded(t)
	assert.Equal(t, session.StateStopped, stopped.State)
	assert.Empty(t, f.session.List())
}

func TestSession_PeerRefresh(t *testing.T) {
	f := newFixture(t, nil)
	sink := f.waitActive(t)

	direct := peers.Entry{
		VirtualIP: netip.MustParseAddr("10.26.0.9"),
		Name:      "laptop",
		Status:    peers.Direct,
		Route: &peers.Route{
			Transport: peers.Datagram,
			Address:   netip.MustParseAddrPort("192.0.2.10:4000"),
			Metric:    1,
			RTT:       12 * time.Millisecond,
		},
	}
	offline := peers.Entry{
		VirtualIP: netip.MustParseAddr("10.26.0.3"),
		Name:      "nas",
		Status:    peers.Unreachable,
	}
	sink.PublishPeers([]peers.Entry{direct, offline})

	ev := f.waitFor(t, session.EventPeerList).(session.PeerListEvent)
	require.Len(t, ev.Peers, 2)
	assert.Equal(t, offline.VirtualIP, ev.Peers[0].VirtualIP)
	assert.Equal(t, direct, ev.Peers[1])
	assert.Equal(t, ev.Peers, f.session.List())
	assert.Equal(t, 2, f.session.Status().PeerCount)

	// A snapshot with a duplicate address is rejected as a whole.
	sink.PublishPeers([]peers.Entry{direct, direct})
	sink.PublishPeers([]peers.Entry{offline})

	ev2, ok := f.recorder.WaitFor(session.EventPeerList, 2, waitTimeout)
	require.True(t, ok)
	assert.Equal(t, []peers.Entry{offline}, ev2.(session.PeerListEvent).Peers)
	assert.Equal(t, 2, f.recorder.Count(session.EventPeerList))
	assert.Equal(t, []peers.Entry{offline}, f.session.List())
}

func TestSession_PeerRoutePolicy(t *testing.T) {
	direct := peers.Route{Transport: peers.Datagram, Metric: 1, RTT: 40 * time.Millisecond}
	relay := peers.Route{Transport: peers.Stream, Metric: 2, RTT: 9 * time.Millisecond}

	tests := []struct {
		name       string
		modify     func(*config.Options)
		wantRoute  peers.Route
		wantStatus peers.Status
	}{
		{"default prefers fewer hops", func(*config.Options) {}, direct, peers.Direct},
		{"first latency", func(o *config.Options) { o.FirstLatency = true }, relay, peers.Relayed},
		{"relay only", func(o *config.Options) { o.Relay = true }, relay, peers.Relayed},
		{"p2p only", func(o *config.Options) { o.Channel = "p2p"; o.FirstLatency = true }, direct, peers.Direct},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := config.DefaultOptions()
			opts.Token, opts.Name, opts.DeviceID = "net", "test", "dev-1"
			opts.Servers = []string{primary}
			tt.modify(opts)
			cfg, err := config.Parse(*opts)
			require.NoError(t, err)

			eng := testutil.NewMockEngine()
			rec := testutil.NewRecorder()
			s, err := session.New(cfg, rec, eng.Factory(),
				session.WithPlatform(tunnel.Desktop),
				session.WithDeviceProvider(&testutil.FakeProvider{}),
			)
			require.NoError(t, err)
			defer s.Close()

			sink := eng.WaitRunning(waitTimeout)
			require.NotNil(t, sink, "engine never ran")
			sink.PublishPeers([]peers.Entry{{
				VirtualIP:  netip.MustParseAddr("10.26.0.7"),
				Name:       "laptop",
				Candidates: []peers.Route{direct, relay},
			}})

			_, ok := rec.WaitFor(session.EventPeerList, 1, waitTimeout)
			require.True(t, ok)
			got := s.List()
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantStatus, got[0].Status)
			require.NotNil(t, got[0].Route)
			assert.Equal(t, tt.wantRoute, *got[0].Route)
			assert.Len(t, got[0].Candidates, 2)
		})
	}
}

func TestSession_TransientFaults(t *testing.T) {
	f := newFixture(t, nil)
	sink := f.waitActive(t)

	sink.ReportFault(2, "lost coordinator")
	sink.ReportFault(99, "something odd")

	ev, ok := f.recorder.WaitFor(session.EventError, 2, waitTimeout)
	require.True(t, ok)
	assert.Equal(t, merrors.Unknown, ev.(session.ErrorEvent).Fault)
	assert.Equal(t, "something odd", ev.(session.ErrorEvent).Detail)

	first := f.waitFor(t, session.EventError).(session.ErrorEvent)
	assert.Equal(t, merrors.Disconnected, first.Fault)
	assert.Equal(t, "lost coordinator", first.Detail)

	assert.Equal(t, session.StateActive, f.session.State())
	assert.False(t, f.session.WaitTimeout(0))
}

func TestSession_FatalFault(t *testing.T) {
	f := newFixture(t, nil)
	sink := f.waitActive(t)

	sink.ReportFault(1, "token revoked")
	stopped := f.waitEnded(t)

	assert.Equal(t, session.StateFailed, stopped.State)
	assert.Equal(t, merrors.TokenError, merrors.KindOf(stopped.Err))
	assert.Equal(t, 1, f.recorder.Count(session.EventError), "a fatal fault is reported once")

	ev := f.waitFor(t, session.EventError).(session.ErrorEvent)
	assert.Equal(t, merrors.TokenError, ev.Fault)
	assert.Equal(t, "token revoked", ev.Detail)
}

func TestSession_ConnectExhausted(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.engine.ConnectFunc = func(context.Context, netip.AddrPort) (*engine.HandshakeInfo, error) {
			return nil, fmt.Errorf("%w: refused", merrors.ErrConnection)
		}
	})
	stopped := f.waitEnded(t)

	assert.Equal(t, session.StateFailed, stopped.State)
	assert.Len(t, f.engine.Connects(), 3)
	assert.Equal(t, 3, f.recorder.Count(session.EventConnect))
	assert.Zero(t, f.recorder.Count(session.EventHandshake))

	for i, ev := range f.recorder.Events()[:3] {
		assert.Equal(t, i+1, ev.(session.ConnectEvent).Count)
	}

	ev := f.waitFor(t, session.EventError).(session.ErrorEvent)
	assert.Equal(t, merrors.Disconnected, ev.Fault)
	assert.ErrorIs(t, stopped.Err, merrors.ErrNoCandidates)
}

func TestSession_ConnectFailover(t *testing.T) {
	eng := testutil.NewMockEngine()
	eng.ConnectFunc = func(_ context.Context, server netip.AddrPort) (*engine.HandshakeInfo, error) {
		if server.String() == primary {
			return nil, merrors.ErrConnection
		}
		return &engine.HandshakeInfo{Version: version.Protocol}, nil
	}
	rec := testutil.NewRecorder()

	s, err := session.New(testConfig(t, primary, secondary), rec, eng.Factory(),
		session.WithPlatform(tunnel.Desktop),
		session.WithDeviceProvider(&testutil.FakeProvider{}),
		session.WithBackoff(resilience.Backoff{MaxAttempts: 3}),
	)
	require.NoError(t, err)
	defer s.Close()

	ev, ok := rec.WaitFor(session.EventHandshake, 1, waitTimeout)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddrPort(secondary), ev.(session.HandshakeEvent).Server)
	assert.Equal(t, []netip.AddrPort{
		netip.MustParseAddrPort(primary),
		netip.MustParseAddrPort(secondary),
	}, eng.Connects())
}

func TestSession_FingerprintMismatch(t *testing.T) {
	eng := testutil.NewMockEngine()
	eng.ConnectFunc = func(context.Context, netip.AddrPort) (*engine.HandshakeInfo, error) {
		return &engine.HandshakeInfo{PublicKey: []byte{1, 2, 3}, Fingerprint: "bogus", Version: version.Protocol}, nil
	}
	rec := testutil.NewRecorder()

	opts := config.DefaultOptions()
	opts.Token, opts.DeviceID = "net", "dev-1"
	opts.Servers = []string{primary}
	opts.Finger = true
	cfg, err := config.Parse(*opts)
	require.NoError(t, err)

	s, err := session.New(cfg, rec, eng.Factory(),
		session.WithPlatform(tunnel.Desktop),
		session.WithDeviceProvider(&testutil.FakeProvider{}),
		session.WithBackoff(resilience.Backoff{MaxAttempts: 2}),
	)
	require.NoError(t, err)
	defer s.Close()

	require.True(t, s.WaitTimeout(waitTimeout))
	assert.Equal(t, session.StateFailed, s.State())
	assert.Zero(t, rec.Count(session.EventHandshake))
	assert.Equal(t, 2, rec.Count(session.EventConnect))
}

func TestSession_MobileDescriptor(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.recorder.DeviceFD = 42
	}, session.WithPlatform(tunnel.Mobile))
	f.waitActive(t)

	req := f.waitFor(t, session.EventDeviceRequest).(session.DeviceRequestEvent)
	assert.Equal(t, testutil.DefaultVirtualIP, req.VirtualIP)
	assert.Equal(t, testutil.DefaultGateway, req.Gateway)
	assert.Equal(t, []int{42}, f.provider.Descriptors())
	assert.Zero(t, f.recorder.Count(session.EventDeviceCreated))
}

func TestSession_MobileDescriptorRefused(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.recorder.DeviceErr = errors.New("vpn permission denied")
	}, session.WithPlatform(tunnel.Mobile))
	stopped := f.waitEnded(t)

	assert.Equal(t, session.StateFailed, stopped.State)
	assert.ErrorIs(t, stopped.Err, merrors.ErrDeviceUnavailable)
	assert.Empty(t, f.provider.Descriptors())

	ev := f.waitFor(t, session.EventError).(session.ErrorEvent)
	assert.Equal(t, merrors.Unknown, ev.Fault)
}

func TestSession_DeviceCreateFails(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.provider.CreateErr = errors.New("operation not permitted")
	})
	stopped := f.waitEnded(t)

	assert.Equal(t, session.StateFailed, stopped.State)
	assert.Zero(t, f.recorder.Count(session.EventConnected))
	assert.Equal(t, 1, f.recorder.Count(session.EventError))
}

func TestSession_DeviceReleased(t *testing.T) {
	f := newFixture(t, nil)
	f.waitActive(t)

	devices := f.provider.Devices()
	require.Len(t, devices, 1)
	assert.False(t, devices[0].Closed())

	require.NoError(t, f.session.Close())
	assert.True(t, devices[0].Closed())
	assert.Equal(t, 1, f.engine.Closes())
}

func TestSession_WaitTimeout(t *testing.T) {
	f := newFixture(t, nil)
	f.waitActive(t)

	assert.False(t, f.session.WaitTimeout(0))
	assert.Equal(t, session.StateActive, f.session.State())
	assert.False(t, f.session.WaitTimeout(20*time.Millisecond))
	assert.Equal(t, session.StateActive, f.session.State())
	assert.Equal(t, 0, f.recorder.Count(session.EventStopped))

	f.session.Stop()
	assert.True(t, f.session.WaitTimeout(waitTimeout))
	assert.True(t, f.session.WaitTimeout(0))
	assert.True(t, f.session.WaitTimeout(time.Millisecond))
}

func TestSession_CloseTwice(t *testing.T) {
	f := newFixture(t, nil)
	f.waitActive(t)

	assert.NoError(t, f.session.Close())
	assert.NoError(t, f.session.Close())
	f.session.Stop()
	f.session.Wait()

	assert.Equal(t, session.StateStopped, f.session.State())
	assert.Equal(t, 1, f.engine.Closes())
	assert.Equal(t, 1, f.recorder.Count(session.EventStopped))
}

func TestSession_CloseWhileWaiting(t *testing.T) {
	f := newFixture(t, nil)
	f.waitActive(t)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.session.Wait()
		}()
	}

	require.NoError(t, f.session.Close())

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("Wait did not return after Close")
	}
}

func TestSession_ConcurrentStop(t *testing.T) {
	f := newFixture(t, nil)
	f.waitActive(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.session.Stop()
			_ = f.session.List()
			_ = f.session.Status()
		}()
	}
	wg.Wait()

	stopped := f.waitEnded(t)
	assert.Equal(t, session.StateStopped, stopped.State)
	assert.Equal(t, 1, f.recorder.Count(session.EventStopped))
}

// blockingHandler holds the handshake decision until release is closed.
type blockingHandler struct {
	session.BaseHandler
	asked   chan struct{}
	release chan struct{}

	mu      sync.Mutex
	stopped []session.StoppedEvent
}

func newBlockingHandler() *blockingHandler {
	return &blockingHandler{asked: make(chan struct{}), release: make(chan struct{})}
}

func (h *blockingHandler) Handshake(session.HandshakeEvent) bool {
	close(h.asked)
	<-h.release
	return true
}

func (h *blockingHandler) Stopped(ev session.StoppedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = append(h.stopped, ev)
}

func TestSession_StopDuringDecision(t *testing.T) {
	h := newBlockingHandler()
	eng := testutil.NewMockEngine()
	s, err := session.New(testConfig(t), h, eng.Factory(),
		session.WithPlatform(tunnel.Desktop),
		session.WithDeviceProvider(&testutil.FakeProvider{}),
	)
	require.NoError(t, err)
	defer s.Close()

	<-h.asked
	assert.Equal(t, session.StateHandshakeOffered, s.State())

	s.Stop()
	require.Eventually(t, func() bool { return s.State() == session.StateStopped }, waitTimeout, 5*time.Millisecond)

	close(h.release)
	require.True(t, s.WaitTimeout(waitTimeout))
	assert.Empty(t, eng.Requests())

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.stopped, 1)
	assert.Equal(t, session.StateStopped, h.stopped[0].State)
}

func TestSession_DecisionTimeout(t *testing.T) {
	h := newBlockingHandler()
	eng := testutil.NewMockEngine()
	s, err := session.New(testConfig(t), h, eng.Factory(),
		session.WithPlatform(tunnel.Desktop),
		session.WithDeviceProvider(&testutil.FakeProvider{}),
		session.WithDecisionTimeout(20*time.Millisecond),
	)
	require.NoError(t, err)
	defer s.Close()

	require.Eventually(t, func() bool { return s.State() == session.StateFailed }, waitTimeout, 5*time.Millisecond)
	close(h.release)
	require.True(t, s.WaitTimeout(waitTimeout))

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.stopped, 1)
	assert.ErrorIs(t, h.stopped[0].Err, merrors.ErrPolicyRejected)
}

func TestSession_HandlerPanic(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.recorder.OnEvent = func(ev session.Event) {
			if ev.Kind() == session.EventHandshake {
				panic("host bug")
			}
		}
	})
	stopped := f.waitEnded(t)

	assert.Equal(t, session.StateFailed, stopped.State)
	assert.ErrorIs(t, stopped.Err, merrors.ErrPolicyRejected)
}

func TestSession_EngineExits(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.engine.RunFunc = func(context.Context, tun.Device, engine.Sink) error {
			return fmt.Errorf("%w: socket closed", merrors.ErrConnection)
		}
	})
	stopped := f.waitEnded(t)

	assert.Equal(t, session.StateFailed, stopped.State)
	ev := f.waitFor(t, session.EventError).(session.ErrorEvent)
	assert.Equal(t, merrors.Disconnected, ev.Fault)
}

func TestSession_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, nil, session.WithMetrics(metrics.New(reg)))
	sink := f.waitActive(t)

	sink.ReportFault(2, "lost coordinator")
	f.waitFor(t, session.EventError)
	f.session.Stop()
	f.waitEnded(t)

	n, err := promtest.GatherAndCount(reg, "meshlink_session_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	n, err = promtest.GatherAndCount(reg, "meshlink_faults_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = promtest.GatherAndCount(reg, "meshlink_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNew_Arguments(t *testing.T) {
	cfg := testConfig(t)
	eng := testutil.NewMockEngine()
	h := session.BaseHandler{}

	_, err := session.New(nil, h, eng.Factory())
	assert.ErrorIs(t, err, merrors.ErrSessionConfigRequired)

	_, err = session.New(cfg, nil, eng.Factory())
	assert.ErrorIs(t, err, merrors.ErrSessionHandlerRequired)

	_, err = session.New(cfg, h, nil)
	assert.ErrorIs(t, err, merrors.ErrSessionEngineRequired)

	_, err = session.New(cfg, h, eng.Factory(), session.WithDeviceProvider(nil))
	assert.ErrorIs(t, err, merrors.ErrInvalidInput)

	for _, e := range []error{
		merrors.ErrSessionConfigRequired,
		merrors.ErrSessionHandlerRequired,
		merrors.ErrSessionEngineRequired,
	} {
		assert.ErrorIs(t, e, merrors.ErrInvalidInput)
	}
}

func TestNew_FactoryFails(t *testing.T) {
	cause := errors.New("address already in use")
	factory := func(*config.Config) (engine.Engine, error) { return nil, cause }

	s, err := session.New(testConfig(t), session.BaseHandler{}, factory)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, merrors.ErrResourceExhausted)
	assert.ErrorIs(t, err, cause)
}

func TestNew_InvalidConfig(t *testing.T) {
	calls := 0
	factory := func(*config.Config) (engine.Engine, error) {
		calls++
		return testutil.NewMockEngine(), nil
	}
	cfg := &config.Config{
		Token:      "net",
		Name:       "test",
		DeviceID:   "dev-1",
		Servers:    []string{primary},
		Transport:  config.TransportStream,
		Cipher:     "rot13",
		Punch:      config.PunchAll,
		Channel:    config.ChannelAll,
		MTU:        100000,
		PacketLoss: 7,
	}

	provider := &testutil.FakeProvider{}

	s, err := session.New(cfg, session.BaseHandler{}, factory, session.WithDeviceProvider(provider))
	assert.Nil(t, s)
	require.ErrorIs(t, err, merrors.ErrConfiguration)

	var errs validation.Errors
	require.ErrorAs(t, err, &errs)
	assert.Subset(t, errs.Fields(), []string{"ports", "cipher", "mtu", "packet_loss"})
	assert.Zero(t, calls, "engine must not open for a rejected config")
	assert.Empty(t, provider.Specs())
}

func TestNew_ConfigIsCopied(t *testing.T) {
	f := newFixture(t, nil)

	got := f.session.Config()
	got.Servers[0] = "mutated:1"
	assert.Equal(t, primary, f.session.Config().Servers[0])
}
