package transport_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pueued/pueued/internal/transport"
)

func TestSecretRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")

	key1, err := transport.LoadOrCreateSecret(path)
	require.NoError(t, err)

	key2, err := transport.LoadOrCreateSecret(path)
	require.NoError(t, err)
	assert.Equal(t, key1, key2)
}

type greeting struct {
	Text string
	N    int
}

func TestListenDialRoundTrip(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "pueued.socket")
	key, err := transport.LoadOrCreateSecret(filepath.Join(t.TempDir(), "secret"))
	require.NoError(t, err)

	ln, err := transport.Listen(addr, key)
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.Close()

		var req greeting
		if err := conn.ReadFrame(&req); err != nil {
			serverDone <- err
			return
		}
		serverDone <- conn.WriteFrame(&greeting{Text: "echo:" + req.Text, N: req.N + 1})
	}()

	client, err := transport.Dial(addr, key)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteFrame(&greeting{Text: "hi", N: 1}))

	var resp greeting
	require.NoError(t, client.ReadFrame(&resp))
	assert.Equal(t, "echo:hi", resp.Text)
	assert.Equal(t, 2, resp.N)

	require.NoError(t, <-serverDone)
}

func TestWrongSecretFailsToDecrypt(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "pueued.socket")
	key, err := transport.LoadOrCreateSecret(filepath.Join(t.TempDir(), "secret"))
	require.NoError(t, err)
	var wrongKey [32]byte
	wrongKey[0] = 1

	ln, err := transport.Listen(addr, key)
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.Close()
		var req greeting
		serverDone <- conn.ReadFrame(&req)
	}()

	client, err := transport.Dial(addr, wrongKey)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.WriteFrame(&greeting{Text: "hi"}))

	err = <-serverDone
	assert.Error(t, err)
}
