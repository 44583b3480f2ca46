package pipeline

import "errors"

var (
	// ErrEmbeddingUnavailable marks embedding backend failures. Callers
	// degrade to singleton clusters instead of failing the pass.
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")

	// ErrClusterNotOpen is returned when a join or merge targets a cluster
	// that has been merged away or archived.
	ErrClusterNotOpen = errors.New("cluster is not open")
)
