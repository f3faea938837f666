package index

import (
	"context"
	"fmt"
)

// ConsistencyStatus summarizes the overall health of the three-store
// invariant.
type ConsistencyStatus string

const (
	StatusHealthy         ConsistencyStatus = "healthy"
	StatusDegradedVector  ConsistencyStatus = "degraded-vector"
	StatusDegradedSparse  ConsistencyStatus = "degraded-sparse"
	StatusCriticalNoChunk ConsistencyStatus = "critical-no-chunks"
)

// ConsistencyReport is the result of check_consistency: counts across the
// three stores and a derived status.
type ConsistencyReport struct {
	CompletedDocuments int
	MetaStoreChunks    int
	DenseIndexSize     int
	SparseIndexSize    int
	Status             ConsistencyStatus
}

// CheckConsistency reports counts across the three stores and classifies
// their agreement. It never mutates state; recovery is the operator's
// explicit RebuildAll call.
func (s *Synchronizer) CheckConsistency(ctx context.Context) (*ConsistencyReport, error) {
	completed, err := s.meta.CountDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	chunks, err := s.meta.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	denseSize := s.dense.Count()
	sparseSize := s.sparse.Count()

	report := &ConsistencyReport{
		CompletedDocuments: completed,
		MetaStoreChunks:    chunks,
		DenseIndexSize:     denseSize,
		SparseIndexSize:    sparseSize,
	}
	report.Status = classify(completed, chunks, denseSize, sparseSize)
	return report, nil
}


// classify derives a ConsistencyStatus from the four counts. completed
// documents while MetaStore reports zero chunks is critical; a mismatch isolated to one derived index is a
// degraded state for that index; matching counts are healthy.
func classify(completed, chunks, dense, sparse int) ConsistencyStatus {
	if completed > 0 && chunks == 0 {
		return StatusCriticalNoChunk
	}
	degradedVector := dense != chunks
	degradedSparse := sparse != chunks
	switch {
	case degradedVector && degradedSparse:
		// Both derived indexes disagree with MetaStore; report the more
		// severe (vector, since dense search has no fallback) first.
		return StatusDegradedVector
	case degradedVector:
		return StatusDegradedVector
	case degradedSparse:
		return StatusDegradedSparse
	default:
		return StatusHealthy
	}
}
