package control

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"launchd-go/logging"
	"launchd-go/value"
)

// conn is one control-plane connection. Each runs its own goroutine reading
// framed requests and writing framed responses; registry.Supervisor's own
// mutex is what actually serializes state mutation across connections, so
// conn itself holds no lock beyond what's needed for its own bookkeeping.
type conn struct {
	id    string
	srv   *Server
	nc    *net.UnixConn
	write sync.Mutex // serializes writes from dispatch handlers that respond asynchronously

	// trusted marks a connection adopted via registry.ConnAdopter
	// (§4.E "CheckIn binding"): only a trusted connection may issue
	// CheckIn, and it is always already bound to trustedLabel.
	trusted      bool
	trustedLabel string
}

func newConn(srv *Server, nc *net.UnixConn, trusted bool) *conn {
	return &conn{
		id:      uuid.NewString(),
		srv:     srv,
		nc:      nc,
		trusted: trusted,
	}
}

// serve reads and dispatches requests until the connection closes, per
// §4.E framing: one request, one response, in turn — a control connection
// is not pipelined.
func (c *conn) serve() {
	defer func() {
		c.srv.untrackConn(c)
		c.nc.Close()
	}()

	for {
		req, err := readMessage(c.nc)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logging.Debug("control: connection read failed", "conn", c.id, "error", err)
			}
			return
		}

		resp := dispatch(c, req)

		c.write.Lock()
		err = writeMessage(c.nc, resp)
		c.write.Unlock()
		if err != nil {
			logging.Debug("control: connection write failed", "conn", c.id, "error", err)
			return
		}
	}
}

// batchTracker ref-counts BatchControl(true) calls across connections
// (§4.E "Batch control"): the reactor's secondary queue is disabled only
// while at least one connection has requested it, and re-enabled once the
// last such connection either releases it or disconnects.
type batchTracker struct {
	mu      sync.Mutex
	holders map[string]bool
	apply   func(disabled bool)
}

func (b *batchTracker) set(c *conn, disabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.holders == nil {
		b.holders = make(map[string]bool)
	}
	was := len(b.holders) > 0
	if disabled {
		b.holders[c.id] = true
	} else {
		delete(b.holders, c.id)
	}
	now := len(b.holders) > 0
	if was != now && b.apply != nil {
		b.apply(now)
	}
}

func (b *batchTracker) releaseAll(c *conn) {
	b.set(c, false)
}

// requestCommand extracts the verb and argument from a request per §4.E's
// "top-level command is either the sole string payload, or a dictionary
// whose sole key is the command and whose value is the argument".
func requestCommand(req value.Value) (string, value.Value, bool) {
	if req.Kind() == value.KindString {
		return req.String(), value.Value{}, true
	}
	if req.Kind() == value.KindDict && req.DictLen() == 1 {
		keys := req.Keys()
		arg, _ := req.Get(keys[0])
		return keys[0], arg, true
	}
	return "", value.Value{}, false
}
