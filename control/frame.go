// Package control implements the §4.E control plane: a length-prefixed
// Value wire protocol over a UNIX stream socket, with Fd values carried as
// SCM_RIGHTS ancillary data, dispatched against a *registry.Supervisor.
package control

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"syscall"

	"launchd-go/value"
)

// maxFrameLen bounds a single message's declared length, guarding against a
// corrupt or hostile peer claiming an enormous allocation.
const maxFrameLen = 64 << 20

// maxAncillaryFds bounds how many descriptors a single message's ancillary
// data may carry; generous for a Sockets distillation, small enough to cap
// a malicious peer's fd-exhaustion attempt.
const maxAncillaryFds = 256

// writeMessage frames v per §6.2: a big-endian u32 length followed by the
// encoded value tree. Fd slots in v are sent as SCM_RIGHTS ancillary data on
// the payload write; the length prefix itself carries no ancillary data, so
// a peer can always read the 4 length bytes with a plain Read.
func writeMessage(conn *net.UnixConn, v value.Value) error {
	var buf bytes.Buffer
	if err := v.EncodeTo(&buf); err != nil {
		return fmt.Errorf("control: encode message: %w", err)
	}
	payload := buf.Bytes()

	if len(payload) > maxFrameLen {
		return fmt.Errorf("control: encoded message too large (%d bytes)", len(payload))
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("control: write length prefix: %w", err)
	}

	fds := v.CollectFds()
	var oob []byte
	if len(fds) > 0 {
		oob = syscall.UnixRights(fds...)
	}

	if len(payload) == 0 && len(oob) == 0 {
		return nil
	}
	if _, _, err := conn.WriteMsgUnix(payload, oob, nil); err != nil {
		return fmt.Errorf("control: write payload: %w", err)
	}
	return nil
}

// readMessage reads one framed message from conn, decoding Fd slots from
// whatever SCM_RIGHTS ancillary data arrived alongside the payload read.
func readMessage(conn *net.UnixConn) (value.Value, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return value.Value{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return value.Value{}, fmt.Errorf("control: peer declared an oversized frame (%d bytes)", n)
	}

	payload := make([]byte, n)
	var fds []int
	read := 0
	oob := make([]byte, syscall.CmsgSpace(maxAncillaryFds*4))
	for read < len(payload) {
		rn, oobn, _, _, err := conn.ReadMsgUnix(payload[read:], oob)
		if err != nil {
			return value.Value{}, err
		}
		if rn == 0 && oobn == 0 {
			return value.Value{}, io.ErrUnexpectedEOF
		}
		read += rn
		if oobn > 0 {
			got, err := parseRights(oob[:oobn])
			if err != nil {
				return value.Value{}, err
			}
			fds = append(fds, got...)
		}
	}

	return value.Decode(bytes.NewReader(payload), fds)
}

// parseRights extracts the descriptors carried by a single SCM_RIGHTS
// control message (§4.E "ancillary data"), grounded on the
// Sendmsg/UnixRights half of the same pattern used to send a console fd in
// utils/console.go — this is its decode-side counterpart.
func parseRights(oob []byte) ([]int, error) {
	msgs, err := syscall.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("control: parse control message: %w", err)
	}
	var out []int
	for _, m := range msgs {
		fds, err := syscall.ParseUnixRights(&m)
		if err != nil {
			return nil, fmt.Errorf("control: parse unix rights: %w", err)
		}
		out = append(out, fds...)
	}
	return out, nil
}
