package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/samizdat-net/samizdat/internal/logging"
)

// commandRequest is one framed request on the runtime socket.
type commandRequest struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
	ID      int            `json:"id"`
}

// commandResponse is one framed response from the runtime.
type commandResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
	ID     int             `json:"id"`
}

// wireError is the runtime's error shape. Codes map onto the local
// error taxonomy; an unknown code classifies as transient.
type wireError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Remote is a Commander speaking newline-delimited JSON to an external
// network runtime process over a unix or TCP socket.
type Remote struct {
	network string
	address string
	timeout time.Duration
	limiter *rate.Limiter

	mu      sync.Mutex
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
	reqID   int
}

// RemoteOption tunes a Remote commander.
type RemoteOption func(*Remote)

// WithCallTimeout caps the wall-clock time of a single command when
// the caller's context has no deadline of its own.
func WithCallTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) { r.timeout = d }
}

// WithRateLimit bounds outgoing commands per second.
func WithRateLimit(perSecond float64, burst int) RemoteOption {
	return func(r *Remote) { r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewRemote creates a Commander for the runtime socket at address.
// The network is inferred from the address shape: anything with a
// path separator dials unix, otherwise TCP.
func NewRemote(address string, opts ...RemoteOption) *Remote {
	network := "tcp"
	if strings.Contains(address, "/") {
		network = "unix"
	}
	r := &Remote{
		network: network,
		address: address,
		timeout: 30 * time.Second,
		limiter: rate.NewLimiter(rate.Limit(50), 100),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect establishes the runtime connection. Callers may skip it;
// Call dials lazily.
func (r *Remote) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectLocked()
}

func (r *Remote) connectLocked() error {
	if r.conn != nil {
		return nil
	}

	conn, err := net.Dial(r.network, r.address)
	if err != nil {
		return fmt.Errorf("%w: dial %s %s: %v", ErrUnreachable, r.network, r.address, err)
	}

	r.conn = conn
	r.encoder = json.NewEncoder(conn)
	r.decoder = json.NewDecoder(conn)
	return nil
}

// Close closes the runtime connection.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.dropLocked()
	return err
}

func (r *Remote) dropLocked() {
	r.conn = nil
	r.encoder = nil
	r.decoder = nil
}

// Call sends one command and waits for its response. Socket-level
// failures classify as unreachable (dial) or transient (broken or
// timed-out connection); runtime-reported failures classify by their
// wire code.
func (r *Remote) Call(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, MarkTransient(fmt.Errorf("rate limit wait: %w", err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.connectLocked(); err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(r.timeout)
	}
	if err := r.conn.SetDeadline(deadline); err != nil {
		r.dropLocked()
		return nil, MarkTransient(fmt.Errorf("set deadline: %w", err))
	}

	r.reqID++
	req := commandRequest{
		Command: command,
		Args:    args,
		ID:      r.reqID,
	}

	if err := r.encoder.Encode(req); err != nil {
		// A broken pipe poisons the framing; reconnect on next call.
		r.dropLocked()
		return nil, MarkTransient(fmt.Errorf("send %s: %w", command, err))
	}

	var resp commandResponse
	if err := r.decoder.Decode(&resp); err != nil {
		r.dropLocked()
		return nil, MarkTransient(fmt.Errorf("read %s response: %w", command, err))
	}

	if resp.ID != req.ID {
		// The stream is out of sync; drop it rather than mispair replies.
		r.dropLocked()
		return nil, MarkTransient(fmt.Errorf("response id %d does not match request %d", resp.ID, req.ID))
	}

	if resp.Error != nil {
		return nil, classifyWireError(command, resp.Error)
	}

	return resp.Result, nil
}

func classifyWireError(command string, we *wireError) error {
	err := fmt.Errorf("%s: %s", command, we.Message)
	switch we.Code {
	case "permanent", "invalid_argument":
		return MarkPermanent(err)
	case "not_found":
		// Not found is permanent for retry loops but still matches
		// IsNotFound for callers that treat it as a normal outcome.
		return MarkPermanent(fmt.Errorf("%s: %w", command, ErrNotFound))
	case "unreachable":
		return fmt.Errorf("%w: %s", ErrUnreachable, we.Message)
	case "transient":
		return MarkTransient(err)
	default:
		// New runtime versions may invent codes; default to the retry path.
		logging.Debug("unknown runtime error code",
			logging.Command(command),
			"code", we.Code,
		)
		return MarkTransient(err)
	}
}
