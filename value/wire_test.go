package value

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTripNoFds(t *testing.T) {
	orig := NewDict().
		Set("Label", NewString("com.example.job")).
		Set("OnDemand", NewBool(true)).
		Set("Nice", NewInteger(-5)).
		Set("Load", NewReal(1.5)).
		Set("Args", NewArray(NewString("/bin/cat"), NewString("-n"))).
		Set("Blob", NewOpaque([]byte{1, 2, 3})).
		Set("Result", NewErrno(0)).
		Set("Handle", NewPort(42))

	var buf bytes.Buffer
	if err := orig.EncodeTo(&buf); err != nil {
		t.Fatalf("EncodeTo() error = %v", err)
	}

	decoded, err := Decode(&buf, nil)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !Equal(orig, decoded) {
		t.Fatalf("decoded value does not match original:\norig=%#v\ndecoded=%#v", orig.GoString(), decoded.GoString())
	}
}

func TestEncodeDecodeRoundTripWithFds(t *testing.T) {
	orig := NewDict().
		Set("Sockets", NewDict().Set("Listeners", NewArray(NewFd(0), NewFd(0))))

	var buf bytes.Buffer
	if err := orig.EncodeTo(&buf); err != nil {
		t.Fatalf("EncodeTo() error = %v", err)
	}

	fds := []int{7, 9}
	decoded, err := Decode(&buf, fds)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	sockets, ok := decoded.Get("Sockets")
	if !ok {
		t.Fatalf("missing Sockets key")
	}
	listeners, ok := sockets.Get("Listeners")
	if !ok || listeners.Len() != 2 {
		t.Fatalf("expected two listeners, got %#v", listeners)
	}
	first, _ := listeners.At(0)
	second, _ := listeners.At(1)
	if first.Fd() != 7 || second.Fd() != 9 {
		t.Fatalf("fd slots bound out of order: got %d, %d want 7, 9", first.Fd(), second.Fd())
	}
}

func TestDecodeRejectsTooFewFds(t *testing.T) {
	orig := NewArray(NewFd(0), NewFd(0))

	var buf bytes.Buffer
	if err := orig.EncodeTo(&buf); err != nil {
		t.Fatalf("EncodeTo() error = %v", err)
	}

	if _, err := Decode(&buf, []int{5}); err == nil {
		t.Fatalf("expected an error decoding more Fd slots than ancillary descriptors provided")
	}
}

func TestCollectFdsMatchesEncodeOrder(t *testing.T) {
	v := NewDict().Set("A", NewFd(11)).Set("B", NewArray(NewFd(22), NewFd(33)))
	fds := v.CollectFds()
	if len(fds) != 3 || fds[0] != 11 || fds[1] != 22 || fds[2] != 33 {
		t.Fatalf("unexpected fd collection order: %v", fds)
	}
}
