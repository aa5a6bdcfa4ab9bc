package bridge

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"
	"testing"
	"time"
)

func TestNewRemote_NetworkInference(t *testing.T) {
	tests := []struct {
		name        string
		address     string
		wantNetwork string
	}{
		{
			name:        "socket path dials unix",
			address:     "/run/samizdat/runtime.sock",
			wantNetwork: "unix",
		},
		{
			name:        "host port dials tcp",
			address:     "127.0.0.1:4050",
			wantNetwork: "tcp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRemote(tt.address)
			if r.network != tt.wantNetwork {
				t.Errorf("network = %s, want %s", r.network, tt.wantNetwork)
			}
		})
	}
}

func TestRemote_CloseNotConnected(t *testing.T) {
	r := NewRemote("/nonexistent/runtime.sock")
	if err := r.Close(); err != nil {
		t.Errorf("Close should not error when not connected: %v", err)
	}
}

func TestRemote_DialFailure(t *testing.T) {
	r := NewRemote("/nonexistent/samizdat-runtime.sock")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := r.Call(ctx, CmdNodeStatus, nil)
	if err == nil {
		t.Fatal("Call should fail when the runtime socket does not exist")
	}
	if !IsUnreachable(err) {
		t.Errorf("dial failure should classify unreachable: %v", err)
	}
	if !IsTransient(err) {
		t.Errorf("dial failure should stay retryable: %v", err)
	}
}

// startMockRuntime serves one connection, answering every request with
// respond until the connection closes.
func startMockRuntime(t *testing.T, socketPath string, respond func(req commandRequest) commandResponse) *sync.WaitGroup {
	t.Helper()
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	t.Cleanup(func() {
		listener.Close()
		os.Remove(socketPath)
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		decoder := json.NewDecoder(conn)
		encoder := json.NewEncoder(conn)
		for {
			var req commandRequest
			if err := decoder.Decode(&req); err != nil {
				return
			}
			if err := encoder.Encode(respond(req)); err != nil {
				return
			}
		}
	}()
	return &wg
}

func TestRemote_CallRoundtrip(t *testing.T) {
	// Use /tmp directly to keep the socket path under the 108 char unix limit.
	socketPath := "/tmp/samizdat-test-call.sock"
	wg := startMockRuntime(t, socketPath, func(req commandRequest) commandResponse {
		if req.Command != CmdNodeStatus {
			return commandResponse{ID: req.ID, Error: &wireError{Message: "unknown command"}}
		}
		result, _ := json.Marshal(map[string]any{"node_status": "online"})
		return commandResponse{ID: req.ID, Result: result}
	})

	r := NewRemote(socketPath)
	if err := r.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer r.Close()

	// Already connected; a second connect is a no-op.
	if err := r.Connect(); err != nil {
		t.Fatalf("Second connect should succeed: %v", err)
	}

	raw, err := r.Call(context.Background(), CmdNodeStatus, nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	var status map[string]any
	if err := json.Unmarshal(raw, &status); err != nil {
		t.Fatalf("Result should be valid JSON: %v", err)
	}
	if status["node_status"] != "online" {
		t.Errorf("node_status = %v, want online", status["node_status"])
	}

	r.Close()
	wg.Wait()
}

func TestRemote_WireErrorClassification(t *testing.T) {
	socketPath := "/tmp/samizdat-test-codes.sock"
	wg := startMockRuntime(t, socketPath, func(req commandRequest) commandResponse {
		code, _ := req.Args["code"].(string)
		return commandResponse{
			ID:    req.ID,
			Error: &wireError{Code: code, Message: "mock failure"},
		}
	})

	r := NewRemote(socketPath)
	defer r.Close()

	tests := []struct {
		name          string
		code          string
		wantTransient bool
		wantPermanent bool
		wantNotFound  bool
	}{
		{name: "transient code", code: "transient", wantTransient: true},
		{name: "permanent code", code: "permanent", wantPermanent: true},
		{name: "invalid argument", code: "invalid_argument", wantPermanent: true},
		{name: "not found", code: "not_found", wantPermanent: true, wantNotFound: true},
		{name: "unknown code defaults transient", code: "quota_exceeded", wantTransient: true},
		{name: "empty code defaults transient", code: "", wantTransient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Call(context.Background(), CmdPeersConnect, map[string]any{"code": tt.code})
			if err == nil {
				t.Fatal("Call should surface the wire error")
			}
			if got := IsTransient(err); got != tt.wantTransient {
				t.Errorf("IsTransient = %v, want %v (%v)", got, tt.wantTransient, err)
			}
			if got := IsPermanent(err); got != tt.wantPermanent {
				t.Errorf("IsPermanent = %v, want %v (%v)", got, tt.wantPermanent, err)
			}
			if got := IsNotFound(err); got != tt.wantNotFound {
				t.Errorf("IsNotFound = %v, want %v (%v)", got, tt.wantNotFound, err)
			}
		})
	}

	r.Close()
	wg.Wait()
}

func TestRemote_ResponseIDMismatch(t *testing.T) {
	socketPath := "/tmp/samizdat-test-mismatch.sock"
	wg := startMockRuntime(t, socketPath, func(req commandRequest) commandResponse {
		result, _ := json.Marshal(map[string]any{"stale": true})
		return commandResponse{ID: req.ID + 7, Result: result}
	})

	r := NewRemote(socketPath)
	defer r.Close()

	_, err := r.Call(context.Background(), CmdNodeStatus, nil)
	if err == nil {
		t.Fatal("Call should reject a response with the wrong id")
	}
	if !IsTransient(err) {
		t.Errorf("desynced stream should classify transient: %v", err)
	}

	r.Close()
	wg.Wait()
}

func TestRemote_CanceledContext(t *testing.T) {
	r := NewRemote("/tmp/samizdat-test-cancel.sock")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Call(ctx, CmdNodeStatus, nil)
	if err == nil {
		t.Fatal("Call with canceled context should fail")
	}
}
