// Package transport implements C6: an encrypted, length-framed byte pipe
// over a UNIX socket (with a loopback TCP fallback on platforms lacking
// UNIX sockets), grounded on the shared-secret box pattern the pack uses
// for peer-to-peer relay traffic. This package knows nothing about the
// request/response vocabulary carried over it — internal/daemon owns that —
// it only moves gob-encoded, secretbox-sealed frames in both directions.
package transport

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	frameLenSize = 8
	// maxFrameSize bounds a single sealed frame; well above any realistic
	// Request/Response, it exists only to keep a corrupt length prefix from
	// triggering an enormous allocation.
	maxFrameSize = 64 << 20
)

// Conn is one accepted or dialed connection: every frame written or read is
// encrypted with the connection's shared secret.
type Conn struct {
	nc  net.Conn
	key [32]byte
	wmu sync.Mutex
}

func newConn(nc net.Conn, key [32]byte) *Conn {
	return &Conn{nc: nc, key: key}
}

// WriteFrame gob-encodes v, seals it with a fresh nonce, and writes the
// length-prefixed ciphertext. Safe for concurrent use by multiple writers.
func (c *Conn) WriteFrame(v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], buf.Bytes(), &nonce, &c.key)

	lenBuf := make([]byte, frameLenSize)
	binary.LittleEndian.PutUint64(lenBuf, uint64(len(sealed)))

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.nc.Write(lenBuf); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := c.nc.Write(sealed); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads the next length-prefixed frame, opens it, and gob-decodes
// it into v. Only one goroutine should call ReadFrame on a given Conn at a
// time; reads are otherwise unsynchronized by design (one reader per
// connection matches how every caller in this module uses it).
func (c *Conn) ReadFrame(v interface{}) error {
	lenBuf := make([]byte, frameLenSize)
	if _, err := io.ReadFull(c.nc, lenBuf); err != nil {
		return err
	}
	n := binary.LittleEndian.Uint64(lenBuf)
	if n > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", n)
	}

	sealed := make([]byte, n)
	if _, err := io.ReadFull(c.nc, sealed); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if len(sealed) < 24 {
		return errors.New("frame shorter than nonce")
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &c.key)
	if !ok {
		return errors.New("decrypt frame: authentication failed")
	}
	return gob.NewDecoder(bytes.NewReader(plain)).Decode(v)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}
