package client

import (
	"fmt"

	"github.com/pueued/pueued/internal/daemon"
	"github.com/pueued/pueued/internal/transport"
)

// Stream opens a follow subscription on the given tasks' stdout (spec.md
// §4.6). Unlike every other Client method it holds its connection open: the
// returned channel yields one StreamFrame per chunk until each task reaches
// Done, and the returned closer releases the connection early.
func (c *Client) Stream(ids []int) (<-chan daemon.StreamFrame, func() error, error) {
	conn, err := transport.DialTimeout(c.socketPath, c.key, c.opts.dialTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("dial daemon: %w", err)
	}

	req := &daemon.Request{Kind: daemon.ReqStream, Stream: &daemon.StreamPayload{TaskIDs: ids}}
	if err := conn.WriteFrame(req); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("send stream request: %w", err)
	}

	var ack daemon.Response
	if err := conn.ReadFrame(&ack); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("read stream ack: %w", err)
	}
	if ack.Status == daemon.RespFailure {
		conn.Close()
		return nil, nil, fmt.Errorf("%s: %s", ack.Failure.Kind, ack.Failure.Message)
	}

	out := make(chan daemon.StreamFrame, 16)
	go func() {
		defer close(out)
		for {
			var resp daemon.Response
			if err := conn.ReadFrame(&resp); err != nil {
				return
			}
			if resp.Status != daemon.RespStream || resp.Stream == nil {
				return
			}
			out <- *resp.Stream
		}
	}()

	return out, conn.Close, nil
}
