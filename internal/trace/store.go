// Package trace persists run summaries. Persistence is best effort: a
// failed write is logged and the run response is unaffected.
package trace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/webwraith/wraith/internal/agent"
)

// ErrNotFound is returned when a run has no stored trace.
var ErrNotFound = errors.New("trace: not found")

// Store reads and writes run traces.
type Store interface {
	// Save persists a run summary under the customer and session it ran in.
	Save(ctx context.Context, customerID, sessionID string, summary agent.RunSummary) error

	// Load fetches a previously saved summary.
	Load(ctx context.Context, customerID, sessionID, runID string) (agent.RunSummary, error)
}

// Key builds the storage key. The customer ID is hashed so keys never
// leak the raw identifier into bucket listings or log lines.
func Key(customerID, sessionID, runID string) string {
	return fmt.Sprintf("%s/%s/traces/%s.json", hashCustomer(customerID), sessionID, runID)
}

func hashCustomer(customerID string) string {
	sum := sha256.Sum256([]byte(customerID))
	return hex.EncodeToString(sum[:])[:12]
}
