package thingspeak

import (
	"context"
	"net"
	"sync"
)

type countingDialer struct {
	mu sync.Mutex
	n  int
	d  net.Dialer
}

func (c *countingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return c.d.DialContext(ctx, network, address)
}
