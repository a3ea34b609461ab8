package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingHandler struct {
	mu     sync.Mutex
	frames [][]byte
	types  []uint8
	closed bool
	recv   chan struct{}
	conn   chan *Client
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{recv: make(chan struct{}, 16), conn: make(chan *Client, 1)}
}

func (h *recordingHandler) HandleFrame(c *Client, frameType uint8, body []byte) {
	h.mu.Lock()
	h.types = append(h.types, frameType)
	h.frames = append(h.frames, append([]byte{}, body...))
	h.mu.Unlock()
	select {
	case h.conn <- c:
	default:
	}
	h.recv <- struct{}{}
}

func (h *recordingHandler) HandleClosed(c *Client, cause error) {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

func listenLocal(t *testing.T, hs Handshake, hb HeartbeatConfig, handler Handler, log zerolog.Logger) *Listener {
	t.Helper()
	ln, err := ResolveListener("127.0.0.1", 0, 0)
	if err != nil {
		t.Fatalf("ResolveListener: %v", err)
	}
	return Listen(ln, hs, hb, handler, log)
}

func TestConnectSendReceive(t *testing.T) {
	log := zerolog.Nop()
	hs := Handshake{Protocol: "hekate/test/v1", ClusterName: "test-cluster", NodeID: "server"}

	serverHandler := newRecordingHandler()
	ln := listenLocal(t, hs, HeartbeatConfig{}, serverHandler, log)
	defer ln.Close()

	clientHandler := newRecordingHandler()
	clientHS := Handshake{Protocol: "hekate/test/v1", ClusterName: "test-cluster", NodeID: "client"}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Connect(ctx, ln.Addr().String(), clientHS, clientHandler, log)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Disconnect()

	if err := client.Send(42, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-serverHandler.recv:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive frame")
	}

	serverHandler.mu.Lock()
	if len(serverHandler.types) != 1 || serverHandler.types[0] != 42 {
		t.Fatalf("server types = %v, want [42]", serverHandler.types)
	}
	if string(serverHandler.frames[0]) != "hello" {
		t.Fatalf("server frame body = %q, want %q", serverHandler.frames[0], "hello")
	}
	serverHandler.mu.Unlock()
}

func TestConnectHandshakeMismatchRejected(t *testing.T) {
	log := zerolog.Nop()
	hs := Handshake{Protocol: "hekate/test/v1", ClusterName: "cluster-a", NodeID: "server"}

	ln := listenLocal(t, hs, HeartbeatConfig{}, newRecordingHandler(), log)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	badHS := Handshake{Protocol: "hekate/test/v1", ClusterName: "cluster-b", NodeID: "client"}
	_, err := Connect(ctx, ln.Addr().String(), badHS, newRecordingHandler(), log)
	if err == nil {
		t.Fatal("expected handshake rejection error")
	}
}

func TestPauseResumeReceivingWithholdsDelivery(t *testing.T) {
	log := zerolog.Nop()
	hs := Handshake{Protocol: "hekate/test/v1", ClusterName: "test-cluster", NodeID: "server"}

	serverHandler := newRecordingHandler()
	ln := listenLocal(t, hs, HeartbeatConfig{}, serverHandler, log)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	clientHS := Handshake{Protocol: "hekate/test/v1", ClusterName: "test-cluster", NodeID: "client"}
	client, err := Connect(ctx, ln.Addr().String(), clientHS, newRecordingHandler(), log)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Disconnect()

	if err := client.Send(1, []byte("priming")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case <-serverHandler.recv:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for priming frame")
	}

	var server *Client
	select {
	case server = <-serverHandler.conn:
	case <-time.After(2 * time.Second):
		t.Fatal("never observed accepted server-side client")
	}

	server.PauseReceiving()

	if err := client.Send(2, []byte("while-paused")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case <-serverHandler.recv:
		t.Fatal("frame delivered while paused")
	case <-time.After(200 * time.Millisecond):
	}

	server.ResumeReceiving()

	select {
	case <-serverHandler.recv:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame delivery after resume")
	}

	serverHandler.mu.Lock()
	defer serverHandler.mu.Unlock()
	if len(serverHandler.types) != 2 || serverHandler.types[1] != 2 {
		t.Fatalf("server types = %v, want [1 2]", serverHandler.types)
	}
}

func TestResolveListenerRetriesAcrossPortRange(t *testing.T) {
	probe, err := ResolveListener("127.0.0.1", 0, 0)
	if err != nil {
		t.Fatalf("ResolveListener(probe): %v", err)
	}
	port := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	blocker, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("net.Listen(blocker): %v", err)
	}
	defer blocker.Close()

	ln, err := ResolveListener("127.0.0.1", port, 3)
	if err != nil {
		t.Fatalf("ResolveListener: %v", err)
	}
	defer ln.Close()

	got := ln.Addr().(*net.TCPAddr).Port
	if got != port+1 {
		t.Fatalf("bound port = %d, want %d (first port was taken)", got, port+1)
	}
}

func TestResolveListenerEphemeralPortTriedOnce(t *testing.T) {
	ln, err := ResolveListener("127.0.0.1", 0, 5)
	if err != nil {
		t.Fatalf("ResolveListener: %v", err)
	}
	defer ln.Close()
	if ln.Addr() == nil {
		t.Fatal("expected a bound address")
	}
}
