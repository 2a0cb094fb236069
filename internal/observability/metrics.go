package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric families for the crawl, agent, browser, and mesh subsystems.
// Registered once on the default registry and exposed at /metrics.
var (
	// CrawlRequests counts crawls by how they rendered and what came out.
	// Labels: render_mode (http|browser|ghost), quality
	// (sufficient|minimal|empty|blocked).
	CrawlRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wraith_crawl_requests_total",
		Help: "Crawl requests by render mode and resulting content quality.",
	}, []string{"render_mode", "quality"})

	// CrawlStageDuration measures per-stage crawl latency in seconds.
	// Labels: stage (precheck|browser_fetch|challenge|extract|ghost).
	CrawlStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wraith_crawl_stage_duration_seconds",
		Help:    "Crawl pipeline stage latency.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"stage"})

	// AgentRuns counts completed agent runs by stop reason.
	AgentRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wraith_agent_runs_total",
		Help: "Agent runs by stop reason.",
	}, []string{"stop_reason"})

	// ToolExecutions counts tool dispatches by outcome.
	// Labels: tool, status (ok or an error code).
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wraith_tool_executions_total",
		Help: "Tool executions by tool name and status.",
	}, []string{"tool", "status"})

	// ToolDuration measures tool execution latency in seconds.
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wraith_tool_duration_seconds",
		Help:    "Tool execution latency.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"tool"})

	// ToolRetries counts timeout-class retries.
	ToolRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wraith_tool_retries_total",
		Help: "Tool executions retried after a timeout.",
	}, []string{"tool"})

	// ToolTimeouts counts executions that hit the deadline.
	ToolTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wraith_tool_timeouts_total",
		Help: "Tool executions that exceeded their deadline.",
	}, []string{"tool"})

	// PoolLeased is the number of browser slots currently leased.
	PoolLeased = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wraith_browser_pool_leased",
		Help: "Browser slots currently leased.",
	})

	// PoolFree is the number of browser slots currently available.
	PoolFree = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wraith_browser_pool_free",
		Help: "Browser slots currently available.",
	})

	// PoolReclaims counts leases taken back after exceeding their lease time.
	PoolReclaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wraith_browser_pool_reclaims_total",
		Help: "Expired browser leases reclaimed by the pool.",
	})

	// PoolSaturation counts acquire attempts rejected because no slot was free.
	PoolSaturation = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wraith_browser_pool_saturation_total",
		Help: "Acquire attempts that found no free slot.",
	})

	// ChallengeDetections counts detected challenges by type.
	ChallengeDetections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wraith_challenge_detections_total",
		Help: "Challenges detected by type.",
	}, []string{"type"})

	// ChallengeResolutions counts resolution attempts by method and outcome.
	// Labels: method (auto_wait|external|none), outcome (resolved|failed).
	ChallengeResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wraith_challenge_resolutions_total",
		Help: "Challenge resolution attempts by method and outcome.",
	}, []string{"method", "outcome"})

	// GhostRuns counts vision-fallback extractions by outcome.
	GhostRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wraith_ghost_runs_total",
		Help: "Screenshot-and-vision extractions by outcome.",
	}, []string{"outcome"})

	// MeshHeartbeats counts heartbeats sent to peers by outcome.
	MeshHeartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wraith_mesh_heartbeats_total",
		Help: "Mesh heartbeats by outcome.",
	}, []string{"outcome"})

	// MeshForwards counts tool calls forwarded to peers by outcome.
	MeshForwards = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wraith_mesh_forwards_total",
		Help: "Tool calls forwarded to mesh peers by outcome.",
	}, []string{"outcome"})

	// MeshFallbacks counts forwards that fell back to local execution.
	MeshFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wraith_mesh_fallbacks_total",
		Help: "Forwarded calls that fell back to local execution.",
	})

	// MeshPeers is the current peer count by health state.
	MeshPeers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wraith_mesh_peers",
		Help: "Known mesh peers by health state.",
	}, []string{"state"})

	// HTTPRequests counts API requests.
	// Labels: method, path, code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wraith_http_requests_total",
		Help: "HTTP API requests by method, path, and status code.",
	}, []string{"method", "path", "code"})

	// HTTPDuration measures API request latency in seconds.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wraith_http_request_duration_seconds",
		Help:    "HTTP API request latency.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"method", "path"})
)
