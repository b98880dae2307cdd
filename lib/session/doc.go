// Package session runs one meshlink overlay client from first contact with a
// coordination server until it stops.
//
// # Quick Start
//
//	cfg, err := config.Load("/etc/meshlink/meshlink.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	s, err := session.New(cfg, session.BaseHandler{}, myEngineFactory)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	s.Wait()
//
// # Lifecycle
//
// A session moves Created → Connecting → HandshakeOffered → Registering →
// Active, and ends in Stopped or Failed. Stop and Close may be called at any
// point; a session that was asked to stop always ends in Stopped.
//
//   - Use [Session.State] or [Session.Status] to inspect it
//   - Use [Session.List] for the latest peer snapshot
//   - Use [Session.Wait], [Session.WaitTimeout] or [Session.Done] to wait
//
// # Events
//
// Every event goes to the [Handler] passed to [New], from a single goroutine
// and in protocol order. Three events are decisions: the host accepts or
// rejects the server in Handshake and the address in Register, and on
// mobile platforms supplies an open device descriptor in DeviceRequest.
// A rejection ends the session in Failed without an Error event.
//
// Hosts that prefer a channel can use [ChannelHandler]:
//
//	h := session.NewChannelHandler(64, nil)
//	s, _ := session.New(cfg, h, myEngineFactory)
//
//	for ev := range h.Events() {
//	    switch ev := ev.(type) {
//	    case session.HandshakeEvent:
//	        ev.Accept()
//	    case session.RegisterEvent:
//	        ev.Accept()
//	    case session.ErrorEvent:
//	        fmt.Println("fault:", ev.Notification())
//	    }
//	}
//
// # Faults
//
// Faults are classified into [errors.Kind]. Token, address exhaustion,
// duplicate address and invalid address faults end the session;
// disconnections and unknown faults are reported and the engine keeps
// running.
package session
