package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/webwraith/wraith/internal/observability"
)

// LoadFunc supplies the local node's current load snapshot.
type LoadFunc func() NodeLoad

// CoordinatorConfig configures mesh membership.
type CoordinatorConfig struct {
	Node      NodeInfo
	Secret    string
	SeedNodes []string

	HeartbeatInterval time.Duration
	UnhealthyAfter    time.Duration
	RemoveAfter       time.Duration
}

// Coordinator maintains the local peer table: joining through seeds,
// heartbeating peers, and expiring the silent ones.
type Coordinator struct {
	config CoordinatorConfig
	load   LoadFunc
	log    *observability.Logger
	client *http.Client
	now    func() time.Time

	mu    sync.RWMutex
	peers map[string]*PeerState

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewCoordinator builds a coordinator. Heartbeat cadence falls back to the
// package defaults when unset.
func NewCoordinator(config CoordinatorConfig, load LoadFunc, log *observability.Logger) *Coordinator {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = HeartbeatInterval
	}
	if config.UnhealthyAfter <= 0 {
		config.UnhealthyAfter = UnhealthyAfter
	}
	if config.RemoveAfter <= 0 {
		config.RemoveAfter = RemoveAfter
	}
	if load == nil {
		load = func() NodeLoad { return NodeLoad{} }
	}
	if log == nil {
		log = observability.NopLogger()
	}
	c := &Coordinator{
		config:  config,
		load:    load,
		log:     log,
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
		peers:   make(map[string]*PeerState),
		stopped: make(chan struct{}),
	}
	if c.config.Node.JoinedAtMS == 0 {
		c.config.Node.JoinedAtMS = c.now().UnixMilli()
	}
	return c
}

// Self describes the local node.
func (c *Coordinator) Self() NodeInfo {
	return c.config.Node
}

// SelfLoad is the local node's current load snapshot, stamped.
func (c *Coordinator) SelfLoad() NodeLoad {
	load := c.load()
	load.NodeID = c.config.Node.NodeID
	load.TimestampMS = c.now().UnixMilli()
	return load
}

// Start joins through the seed nodes and launches the heartbeat loop.
// Seed failures are logged, not fatal: a node with no reachable seeds
// simply runs alone until peers find it.
func (c *Coordinator) Start(ctx context.Context) {
	if len(c.config.SeedNodes) > 0 {
		var g errgroup.Group
		for _, seed := range c.config.SeedNodes {
			g.Go(func() error {
				if err := c.joinSeed(ctx, seed); err != nil {
					c.log.Warn("mesh join failed", "seed", seed, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	go c.heartbeatLoop(ctx)
}

// Stop notifies peers and halts the heartbeat loop.
func (c *Coordinator) Stop(ctx context.Context) {
	c.stopOnce.Do(func() { close(c.stopped) })

	req := JoinRequest{Node: c.Self(), Load: c.SelfLoad()}
	for _, peer := range c.Peers() {
		if err := c.post(ctx, peer.Info.AdvertiseURL+"/mesh/leave", req, nil); err != nil {
			c.log.Debug("mesh leave notify failed", "peer", peer.Info.NodeID, "error", err)
		}
	}
}

// joinSeed registers with one seed and adopts the peer table it returns.
// Adoption is one hop: learned peers are recorded, never re-joined.
func (c *Coordinator) joinSeed(ctx context.Context, seedURL string) error {
	var resp JoinResponse
	req := JoinRequest{Node: c.Self(), Load: c.SelfLoad()}
	if err := c.post(ctx, seedURL+"/mesh/join", req, &resp); err != nil {
		return err
	}
	if !resp.Accepted {
		return fmt.Errorf("seed %s rejected join", seedURL)
	}
	c.Observe(resp.Self, nil)
	for _, info := range resp.Peers {
		c.Observe(info, nil)
	}
	return nil
}

// Observe records or refreshes a peer entry. The local node never appears
// in its own table. A nil load keeps the last snapshot.
func (c *Coordinator) Observe(info NodeInfo, load *NodeLoad) {
	if info.NodeID == "" || info.NodeID == c.config.Node.NodeID {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	peer, ok := c.peers[info.NodeID]
	if !ok {
		peer = &PeerState{Info: info}
		c.peers[info.NodeID] = peer
	}
	peer.Info = info
	if load != nil {
		peer.Load = load
	}
	peer.LastHeartbeatMS = c.now().UnixMilli()
	peer.MissedHeartbeats = 0
	peer.Healthy = true
}

// Remove drops a peer, used when it announces leave.
func (c *Coordinator) Remove(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.peers, nodeID)
}

// Peers returns a snapshot of the table sorted by node ID.
func (c *Coordinator) Peers() []PeerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PeerState, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.NodeID < out[j].Info.NodeID })
	return out
}

// HealthyPeers returns only peers fresh enough to route to.
func (c *Coordinator) HealthyPeers() []PeerState {
	var out []PeerState
	for _, p := range c.Peers() {
		if p.Healthy {
			out = append(out, p)
		}
	}
	return out
}

func (c *Coordinator) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopped:
			return
		case <-ticker.C:
			c.heartbeatPeers(ctx)
			c.sweep()
			c.publishPeerMetrics()
		}
	}
}

// heartbeatPeers pings every known peer concurrently and folds the load
// they report back into the table.
func (c *Coordinator) heartbeatPeers(ctx context.Context) {
	req := HeartbeatRequest{Node: c.Self(), Load: c.SelfLoad()}
	var g errgroup.Group
	g.SetLimit(8)
	for _, peer := range c.Peers() {
		g.Go(func() error {
			var resp HeartbeatResponse
			err := c.post(ctx, peer.Info.AdvertiseURL+"/mesh/heartbeat", req, &resp)
			if err != nil || !resp.OK {
				observability.MeshHeartbeats.WithLabelValues("failed").Inc()
				c.recordMiss(peer.Info.NodeID)
				c.log.Debug("mesh heartbeat failed", "peer", peer.Info.NodeID, "error", err)
				return nil
			}
			observability.MeshHeartbeats.WithLabelValues("ok").Inc()
			c.Observe(resp.Node, &resp.Load)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Coordinator) recordMiss(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if peer, ok := c.peers[nodeID]; ok {
		peer.MissedHeartbeats++
	}
}

// sweep demotes peers past the unhealthy threshold and removes those past
// the removal threshold.
func (c *Coordinator) sweep() {
	nowMS := c.now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, peer := range c.peers {
		silent := time.Duration(nowMS-peer.LastHeartbeatMS) * time.Millisecond
		switch {
		case silent > c.config.RemoveAfter:
			delete(c.peers, id)
			c.log.Info("mesh peer removed", "peer", id, "silent", silent.Round(time.Second).String())
		case silent > c.config.UnhealthyAfter:
			peer.Healthy = false
		}
	}
}

func (c *Coordinator) publishPeerMetrics() {
	healthy, unhealthy := 0, 0
	for _, p := range c.Peers() {
		if p.Healthy {
			healthy++
		} else {
			unhealthy++
		}
	}
	observability.MeshPeers.WithLabelValues("healthy").Set(float64(healthy))
	observability.MeshPeers.WithLabelValues("unhealthy").Set(float64(unhealthy))
}

// post sends an authenticated JSON request and decodes the response into
// out when non-nil.
func (c *Coordinator) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Mesh-Token", MintToken(c.config.Secret, c.now()))

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
