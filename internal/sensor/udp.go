package sensor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/precog/internal/monitoring"
)

// UDPSource receives one JSON record per datagram.
type UDPSource struct {
	conn *net.UDPConn
	buf  []byte
	seq  uint64

	received atomic.Int64
	dropped  atomic.Int64
}

// UDPStats counts datagrams since the socket was bound.
type UDPStats struct {
	Received int64 `json:"received"`
	Dropped  int64 `json:"dropped"`
}

// ListenUDP binds address (e.g. ":7300") and returns a source reading from it.
func ListenUDP(address string, rcvBuf int) (*UDPSource, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if rcvBuf > 0 {
		if err := conn.SetReadBuffer(rcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", rcvBuf, err)
		}
	}
	monitoring.Logf("UDP observation source listening on %s", conn.LocalAddr())
	return &UDPSource{conn: conn, buf: make([]byte, 64*1024)}, nil
}

// LocalAddr returns the bound address.
func (u *UDPSource) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// Stats returns the datagram counters. Safe to call while Next runs.
func (u *UDPSource) Stats() UDPStats {
	return UDPStats{Received: u.received.Load(), Dropped: u.dropped.Load()}
}

// Close releases the socket.
func (u *UDPSource) Close() error { return u.conn.Close() }

// Next blocks until a well-formed datagram arrives or ctx is done. The
// stream never ends on its own.
func (u *UDPSource) Next(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		// Short deadlines let the loop observe cancellation.
		_ = u.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := u.conn.ReadFromUDP(u.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return Frame{}, ctx.Err()
			}
			return Frame{}, fmt.Errorf("UDP read: %w", err)
		}
		u.received.Add(1)
		f, err := DecodeRecord(u.buf[:n])
		if err != nil {
			u.dropped.Add(1)
			monitoring.Logf("UDP datagram from %v dropped: %v", from, err)
			continue
		}
		u.seq++
		if f.Seq == 0 {
			f.Seq = u.seq
		}
		return f, nil
	}
}
