package control

import (
	"net"

	"launchd-go/value"
)

// Client is a control-plane client: it dials the supervisor's UNIX socket
// and speaks the same length-framed, typed-value protocol dispatch.go
// implements (§4.E, §6.2). It is the one exported entry point front-ends
// like the `cmd` package use; the command-line front end itself is an
// out-of-scope collaborator (§1), so only this narrow contract is provided.
type Client struct {
	nc *net.UnixConn
}

// Dial connects to the control socket at path.
func Dial(path string) (*Client, error) {
	nc, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc.(*net.UnixConn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.nc.Close()
}

// Call sends a single command (verb plus argument) and returns the
// response value, per §4.E's request/response framing. Pass value.Value{}
// for arg when the verb takes none.
func (c *Client) Call(verb string, arg value.Value) (value.Value, error) {
	var req value.Value
	if arg.Kind() == value.KindString && arg.String() == "" {
		req = value.NewString(verb)
	} else {
		req = value.NewDict().Set(verb, arg)
	}
	if err := writeMessage(c.nc, req); err != nil {
		return value.Value{}, err
	}
	return readMessage(c.nc)
}
