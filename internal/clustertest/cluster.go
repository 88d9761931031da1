package clustertest

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/EventStore/esdb-tui/pkg/transport"
	"github.com/EventStore/esdb-tui/pkg/wire"
)

// Cluster is a dial table of fake nodes. Its Dialer routes an address
// to the matching node's bufconn listener, so the code under test
// dials exactly as it would in production.
type Cluster struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

func NewCluster(nodes ...*Node) *Cluster {
	c := &Cluster{nodes: make(map[string]*Node)}
	for _, n := range nodes {
		c.Add(n)
	}
	return c
}

func (c *Cluster) Add(n *Node) {
	c.mu.Lock()
	c.nodes[n.Addr()] = n
	c.mu.Unlock()
}

// Remove drops a node from the dial table without stopping it.
func (c *Cluster) Remove(addr string) {
	c.mu.Lock()
	delete(c.nodes, addr)
	c.mu.Unlock()
}

// Node returns the node serving addr, or nil.
func (c *Cluster) Node(addr string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[addr]
}

// Stop stops every node.
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.nodes {
		n.Stop()
	}
}

// Info builds the gossip answer covering every node in the table.
func (c *Cluster) Info() *wire.ClusterInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := &wire.ClusterInfo{}
	for _, n := range c.nodes {
		m := n.Member()
		info.Members = append(info.Members, m)
		if m.Epoch > info.Epoch {
			info.Epoch = m.Epoch
		}
	}
	return info
}

// ShareGossip makes every node answer gossip with the full table.
func (c *Cluster) ShareGossip() {
	info := c.Info()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.nodes {
		n.SetGossip(info)
	}
}

// Dialer returns a transport.Dialer backed by the dial table.
func (c *Cluster) Dialer() transport.Dialer {
	return func(ctx context.Context, addr string) (*grpc.ClientConn, error) {
		n := c.Node(addr)
		if n == nil {
			return nil, fmt.Errorf("no node at %s", addr)
		}
		return grpc.DialContext(ctx, addr,
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return n.lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithBlock(),
		)
	}
}

// Addrs returns the table's addresses, usable as seeds.
func (c *Cluster) Addrs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	addrs := make([]string, 0, len(c.nodes))
	for addr := range c.nodes {
		addrs = append(addrs, addr)
	}
	return addrs
}

// WaitFor polls cond until it holds or the deadline passes.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
