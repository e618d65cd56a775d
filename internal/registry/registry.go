// Package registry provides read-only access to the client roster and the
// captain settings. Both stores are owned and written by the operator tools;
// the core only reads them. Credentials are fetched on demand per order and
// never cached across signals.
package registry

import (
	"context"
	"errors"

	"horus-core/pkg/types"
)

// ErrNotFound is returned when a client id has no record.
var ErrNotFound = errors.New("registry: not found")

// CaptainID is the singleton settings key used by the deployed system.
const CaptainID = "master"

// Registry is the roster/settings lookup used by the Brain, the Fleet and
// the Eye. Implementations must be safe for concurrent use.
type Registry interface {
	// Clients returns every client record. Eligibility filtering is the
	// caller's business (the Brain applies active ∧ approved ∧ balance > 0).
	Clients(ctx context.Context) ([]types.Client, error)

	// Client returns one record by id, or ErrNotFound.
	Client(ctx context.Context, id string) (types.Client, error)

	// Settings returns the captain settings, with documented defaults
	// applied for any missing field. A captain with no stored record gets
	// types.DefaultSettings.
	Settings(ctx context.Context, captainID string) (types.CaptainSettings, error)
}
