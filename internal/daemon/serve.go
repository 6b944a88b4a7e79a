package daemon

import (
	"sync/atomic"

	"github.com/pueued/pueued/internal/logger"
	"github.com/pueued/pueued/internal/metrics"
	"github.com/pueued/pueued/internal/transport"
)

// openConns tracks the daemon-wide open connection count for the
// pueued_transport_connections gauge (spec.md §5: the socket listener is one
// of the three shared resources alongside the state mutex and log files).
var openConns int32

// ServeConn handles one client connection end-to-end: it decodes one Request
// per frame, dispatches it through Handle, and writes back the Response. A
// successful Stream request additionally pumps a sequence of RespStream
// frames until the subscription's tasks all reach Done or the client
// disconnects (spec.md §4.6). ServeConn returns when the connection is
// closed by the peer, a frame fails to decode, or a Shutdown request is
// processed.
func (d *Daemon) ServeConn(conn *transport.Conn) {
	defer conn.Close()

	n := atomic.AddInt32(&openConns, 1)
	metrics.SetTransportConnections(float64(n))
	defer func() {
		n := atomic.AddInt32(&openConns, -1)
		metrics.SetTransportConnections(float64(n))
	}()

	for {
		var req Request
		if err := conn.ReadFrame(&req); err != nil {
			return
		}
		metrics.RecordTransportFrame("in")

		resp := d.Handle(&req)
		if err := conn.WriteFrame(resp); err != nil {
			return
		}
		metrics.RecordTransportFrame("out")

		switch {
		case req.Kind == ReqShutdown:
			return
		case req.Kind == ReqStream && resp.Status == RespSuccess:
			d.pumpStream(conn, req.Stream.TaskIDs)
		}
	}
}

// pumpStream writes the StreamFrame sequence for an already-acknowledged
// Stream request. It stops early if the connection drops (spec.md §5:
// "subscriptions end when the client disconnects").
func (d *Daemon) pumpStream(conn *transport.Conn, ids []int) {
	cancel := make(chan struct{})
	defer close(cancel)

	frames, f := d.OpenStream(ids, cancel)
	if f != nil {
		_ = conn.WriteFrame(&Response{Status: RespFailure, Failure: f})
		return
	}
	for frame := range frames {
		fr := frame
		if err := conn.WriteFrame(&Response{Status: RespStream, Stream: &fr}); err != nil {
			return
		}
		metrics.RecordTransportFrame("out")
	}
}

// Serve accepts connections on ln until it is closed, handling each on its
// own goroutine (spec.md §5: suspension points include network reads, so a
// blocked client never stalls another's requests).
func (d *Daemon) Serve(ln *transport.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Get().Info().Err(err).Msg("transport listener stopped accepting")
			return
		}
		go d.ServeConn(conn)
	}
}
