package interfaces

import (
	"context"
)

// NoFitAnswer is the sentinel a genre advisor returns when an unmapped genre
// matches no existing canonical
const NoFitAnswer = "NO_FIT"

// GenreAdvisor classifies an unknown genre against the current canonical
// mapping. Implementations return either an existing canonical name or
// NoFitAnswer; anything else is treated as an advisor failure by the caller.
type GenreAdvisor interface {
	// Classify returns the advisor's single-token answer for the genre given
	// the current mapping serialized as JSON
	Classify(ctx context.Context, genre string, mappingJSON string) (string, error)

	// Ping verifies the advisor is reachable and configured; called once at
	// normalizer construction to surface misconfiguration early
	Ping(ctx context.Context) error
}
