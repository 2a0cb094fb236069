package mesh

// localPreferenceBonus is added to the local node's score so a remote node
// must beat it by a margin: forwarding has a cost the load numbers do not
// capture.
const localPreferenceBonus = 0.2

// defaultScore stands in for nodes that have not reported load yet.
const defaultScore = 0.5

// Router picks an execution node for a tool call.
type Router struct {
	coordinator *Coordinator
	preferLocal bool
}

// NewRouter builds a router over the coordinator's peer table. Local
// preference is on by default.
func NewRouter(coordinator *Coordinator) *Router {
	return &Router{coordinator: coordinator, preferLocal: true}
}

// Route scores the local node and every healthy peer that advertises the
// tool, and returns the winner. Ties go local.
func (r *Router) Route(tool string) RouteDecision {
	self := r.coordinator.Self()
	selfLoad := r.coordinator.SelfLoad()
	selfScore := scoreLoad(&selfLoad)
	if r.preferLocal {
		selfScore += localPreferenceBonus
	}
	best := RouteDecision{
		IsLocal:      true,
		TargetNodeID: self.NodeID,
		Score:        selfScore,
		Reason:       "local",
	}

	for _, peer := range r.coordinator.HealthyPeers() {
		if !offersTool(peer.Info, tool) {
			continue
		}
		score := scoreLoad(peer.Load)
		if score > best.Score {
			best = RouteDecision{
				TargetNodeID: peer.Info.NodeID,
				TargetURL:    peer.Info.AdvertiseURL,
				Score:        score,
				Reason:       "capacity",
			}
		}
	}
	return best
}

// scoreLoad is the node's remaining capacity, counting both crawls and
// agent runs against the concurrency ceiling. A node that never reported
// load scores the neutral default.
func scoreLoad(load *NodeLoad) float64 {
	if load == nil || load.MaxConcurrentCrawls <= 0 {
		return defaultScore
	}
	available := load.MaxConcurrentCrawls - load.ActiveCrawls - load.ActiveAgentRuns
	return float64(available) / float64(load.MaxConcurrentCrawls)
}

// offersTool reports whether a node advertises the tool. An empty tools
// list means the node runs the full set.
func offersTool(info NodeInfo, tool string) bool {
	if len(info.Tools) == 0 {
		return true
	}
	for _, t := range info.Tools {
		if t == tool {
			return true
		}
	}
	return false
}
