package testutil

import (
	"math/rand/v2"
	"net"
	"sync"
	"testing"
)

// ListenUDP открывает UDP сокет на случайном порту loopback.
// Закрывается автоматически при завершении теста.
func ListenUDP(t testing.TB) net.PacketConn {
	t.Helper()

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create UDP socket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

// UnusedUDPAddr возвращает адрес, на котором гарантированно никто не слушает
// (сокет открывается и сразу закрывается).
func UnusedUDPAddr(t testing.TB) string {
	t.Helper()

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve UDP port: %v", err)
	}
	addr := conn.LocalAddr().String()
	_ = conn.Close()
	return addr
}

// LossyPacketConn drops a fraction of outgoing datagrams.
// The generator is seeded so that runs are reproducible.
// xtaci/lossyconn is not used: it has its own address type and an in-memory
// pair, while a Nub needs a real UDP socket with UDP addresses.
type LossyPacketConn struct {
	net.PacketConn

	mu      sync.Mutex
	rng     *rand.Rand
	loss    float64
	dropped int
	sent    int
}

// NewLossyPacketConn wraps conn; loss is in [0, 1).
func NewLossyPacketConn(conn net.PacketConn, loss float64, seed uint64) *LossyPacketConn {
	return &LossyPacketConn{
		PacketConn: conn,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		loss:       loss,
	}
}

func (c *LossyPacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	drop := c.rng.Float64() < c.loss
	if drop {
		c.dropped++
	} else {
		c.sent++
	}
	c.mu.Unlock()
	if drop {
		return len(p), nil
	}
	return c.PacketConn.WriteTo(p, addr)
}

// Dropped reports how many datagrams were discarded.
func (c *LossyPacketConn) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
