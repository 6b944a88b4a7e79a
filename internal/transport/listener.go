package transport

import (
	"net"
	"os"
	"path/filepath"
	"time"
)

// Listener accepts connections on the socket address and wraps each one in
// the shared-secret Conn framing.
type Listener struct {
	ln  net.Listener
	key [32]byte
}

// Listen binds addr (a filesystem path on platforms with UNIX sockets, or an
// arbitrary path used to record the fallback TCP port otherwise), removing
// any stale socket left behind by a previous crashed run.
func Listen(addr string, key [32]byte) (*Listener, error) {
	if err := os.MkdirAll(filepath.Dir(addr), 0o700); err != nil {
		return nil, err
	}
	_ = os.Remove(addr)

	ln, err := listenNetwork(addr)
	if err != nil {
		return nil, err
	}
	if err := chmodSocket(addr); err != nil {
		ln.Close()
		return nil, err
	}
	return &Listener{ln: ln, key: key}, nil
}

// Accept blocks for the next incoming connection.
func (l *Listener) Accept() (*Conn, error) {
	nc, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return newConn(nc, l.key), nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Addr reports the bound network address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Dial connects to a Listener bound at addr with the same shared secret.
func Dial(addr string, key [32]byte) (*Conn, error) {
	nc, err := dialNetwork(addr)
	if err != nil {
		return nil, err
	}
	return newConn(nc, key), nil
}

// DialTimeout is Dial with a bound on how long the connection attempt may
// take, used by pkg/client so a dead daemon fails a call quickly instead of
// hanging on the client's default OS connect timeout.
func DialTimeout(addr string, key [32]byte, timeout time.Duration) (*Conn, error) {
	nc, err := dialNetworkTimeout(addr, timeout)
	if err != nil {
		return nil, err
	}
	return newConn(nc, key), nil
}
