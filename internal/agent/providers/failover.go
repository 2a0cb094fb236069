package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/webwraith/wraith/internal/agent"
	"github.com/webwraith/wraith/internal/observability"
)

// Failover chains providers and rotates to the next one when a call fails
// with a transient error. A provider that keeps failing is benched for a
// cooldown window before it is tried again.
type Failover struct {
	providers []agent.Provider
	log       *observability.Logger

	mu       sync.Mutex
	benched  map[string]time.Time
	failures map[string]int

	benchThreshold int
	benchDuration  time.Duration
	now            func() time.Time
}

// NewFailover creates a chain. Order is preference order.
func NewFailover(log *observability.Logger, providers ...agent.Provider) *Failover {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Failover{
		providers:      providers,
		log:            log,
		benched:        make(map[string]time.Time),
		failures:       make(map[string]int),
		benchThreshold: 3,
		benchDuration:  30 * time.Second,
		now:            time.Now,
	}
}

// Name identifies the chain in logs and traces.
func (f *Failover) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

// Complete tries each available provider in order until one succeeds.
func (f *Failover) Complete(ctx context.Context, messages []agent.Message, tools []agent.ToolSchema) (agent.AssistantAction, error) {
	var lastErr error
	for _, p := range f.providers {
		if !f.available(p.Name()) {
			continue
		}
		action, err := p.Complete(ctx, messages, tools)
		if err == nil {
			f.recordSuccess(p.Name())
			return action, nil
		}
		lastErr = err
		if !transient(err) {
			return nil, err
		}
		f.recordFailure(p.Name())
		f.log.Warn("provider failed, trying next", "provider", p.Name(), "error", err)
	}
	if lastErr == nil {
		lastErr = errors.New("no provider available")
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// Vision tries each available provider, skipping the ones without an image
// pathway.
func (f *Failover) Vision(ctx context.Context, imagePNG []byte, prompt, detail string) (string, error) {
	var lastErr error
	for _, p := range f.providers {
		if !f.available(p.Name()) {
			continue
		}
		text, err := p.Vision(ctx, imagePNG, prompt, detail)
		if err == nil {
			f.recordSuccess(p.Name())
			return text, nil
		}
		if errors.Is(err, agent.ErrVisionUnsupported) {
			continue
		}
		lastErr = err
		if !transient(err) {
			return "", err
		}
		f.recordFailure(p.Name())
	}
	if lastErr == nil {
		lastErr = agent.ErrVisionUnsupported
	}
	return "", lastErr
}

func (f *Failover) available(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	until, ok := f.benched[name]
	if !ok {
		return true
	}
	if f.now().After(until) {
		delete(f.benched, name)
		f.failures[name] = 0
		return true
	}
	return false
}

func (f *Failover) recordSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[name] = 0
}

func (f *Failover) recordFailure(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[name]++
	if f.failures[name] >= f.benchThreshold {
		f.benched[name] = f.now().Add(f.benchDuration)
	}
}

// transient reports whether an error is worth rotating past: rate limits,
// server errors, timeouts, connection trouble. Auth and request-shape errors
// are not; every provider in the chain would reject the same request.
func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "overloaded",
		"500", "502", "503", "504",
		"timeout", "connection refused", "connection reset", "eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
