// Package model defines the core data types shared across the indexing and
// retrieval pipeline: Document, Chunk, and the processing status state
// machine.
package model

import "fmt"

// Status is a document's position in the processing state machine.
// Transitions are monotone: Pending -> Parsing -> Embedding -> Completed,
// or to Failed from any non-terminal state. Completed and Failed are
// terminal; re-processing starts a new sequence at Pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusParsing   Status = "parsing"
	StatusEmbedding Status = "embedding"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// CanTransitionTo reports whether moving from s to next is a legal state
// machine edge.
func (s Status) CanTransitionTo(next Status) bool {
	if next == StatusFailed {
		return s != StatusCompleted && s != StatusFailed
	}
	order := map[Status]int{
		StatusPending:   0,
		StatusParsing:   1,
		StatusEmbedding: 2,
		StatusCompleted: 3,
	}
	cur, curOK := order[s]
	nxt, nxtOK := order[next]
	return curOK && nxtOK && nxt == cur+1
}

// VirtualPath is the sentinel on-disk path for documents with no backing
// file (notes, serialized conversations).
const VirtualPath = ""

// Document is a single ingested unit: a file or a virtual note. It owns a
// set of Chunks (cascade-deleted with the document) and carries a
// processing status.
type Document struct {
	ID       int64
	Filename string
	Title    string
	FileType string
	Path     string // VirtualPath for documents with no backing file
	Size     int64
	Content  string
	Metadata map[string]string

	Status   Status
	Message  string
	Progress float64 // 0..1
}

// IsVirtual reports whether the document has no backing file.
func (d *Document) IsVirtual() bool {
	return d.Path == VirtualPath
}

// Chunk is a bounded-length span of a Document's text, strictly owned by
// one Document. ChunkIndex is the dense, 0-based position of the chunk
// within the document; for a completed document these are contiguous and
// unique.
type Chunk struct {
	ID         int64
	DocumentID int64
	ChunkIndex int
	Content    string
	StartChar  int
	EndChar    int
	Metadata   map[string]string
}

// ExternalID is the stringified identifier shared across DenseIndex and
// SparseIndex for a given chunk.
func ExternalID(chunkID int64) string {
	return fmt.Sprintf("chunk_%d", chunkID)
}
