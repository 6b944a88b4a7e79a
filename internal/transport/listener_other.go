//go:build !unix

package transport

import (
	"net"
	"os"
	"time"
)

// On platforms without UNIX sockets, bind an ephemeral loopback TCP port and
// record it next to addr so Dial can find it; the shared secret still gates
// every frame, so the wider bind surface never becomes a wider trust surface.
func listenNetwork(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(addr+".port", []byte(ln.Addr().String()), 0o600); err != nil {
		ln.Close()
		return nil, err
	}
	return ln, nil
}

func dialNetwork(addr string) (net.Conn, error) {
	portAddr, err := os.ReadFile(addr + ".port")
	if err != nil {
		return nil, err
	}
	return net.Dial("tcp", string(portAddr))
}

func dialNetworkTimeout(addr string, timeout time.Duration) (net.Conn, error) {
	portAddr, err := os.ReadFile(addr + ".port")
	if err != nil {
		return nil, err
	}
	return net.DialTimeout("tcp", string(portAddr), timeout)
}

func chmodSocket(addr string) error {
	return nil
}
