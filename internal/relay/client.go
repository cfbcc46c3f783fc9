package relay

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"time"
)

// Result is the outcome of a best-effort Send.
type Result int

const (
	Delivered Result = iota
	Unreachable
	Malformed
)

func (r Result) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Unreachable:
		return "unreachable"
	case Malformed:
		return "malformed"
	}
	return "unknown"
}

// DefaultSendTimeout bounds a hook's delivery when ctx has no deadline.
const DefaultSendTimeout = 2 * time.Second

// Send writes one payload to the relay at addr, closes the write side and
// waits for the server to hang up, which it does once the payload is
// handled. Invalid JSON is not sent.
func Send(ctx context.Context, addr string, data []byte) Result {
	if !json.Valid(data) {
		return Malformed
	}
	if addr == "" {
		return Unreachable
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultSendTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", addr)
	if err != nil {
		return Unreachable
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.Write(data); err != nil {
		return Unreachable
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		if err := uc.CloseWrite(); err != nil {
			return Unreachable
		}
	}
	// the payload is written; a hang-up that races the deadline is still a delivery
	_, _ = io.Copy(io.Discard, conn)
	return Delivered
}

// Forward reads one payload from r and sends it, all within ctx's budget
// (DefaultSendTimeout when ctx has none). A reader that does not finish in
// time counts as Unreachable.
func Forward(ctx context.Context, r io.Reader, addr string) Result {
	if addr == "" {
		return Unreachable
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultSendTimeout)
		defer cancel()
	}

	dataCh := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(io.LimitReader(r, maxPayloadBytes))
		dataCh <- data
	}()

	select {
	case data := <-dataCh:
		return Send(ctx, addr, data)
	case <-ctx.Done():
		return Unreachable
	}
}
