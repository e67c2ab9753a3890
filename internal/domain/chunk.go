package domain

// Source used for chunks built from the reference question set.
const SourcePredefined = "predefined"

// ChunkMetadata carries the provenance of a chunk. Optional fields are nil when unknown.
type ChunkMetadata struct {
	Source     string  `json:"source"`
	PageNumber *int    `json:"page_number,omitempty"`
	Chapter    *string `json:"chapter,omitempty"`
	Category   *string `json:"category,omitempty"`
}

// Chunk is a bounded span of source text, the unit of retrieval.
type Chunk struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// IndexEntry is an embedded chunk ready to be stored by a vector index.
type IndexEntry struct {
	ID        string        `json:"id"`
	Embedding []float32     `json:"-"`
	Text      string        `json:"text"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// SearchResult is a single nearest-neighbour hit. Lower distance means more similar.
type SearchResult struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
	Distance float64       `json:"distance"`
}

// ReferenceQuestion is a labelled seed question.
type ReferenceQuestion struct {
	Question string `json:"question" yaml:"question"`
	Category string `json:"category" yaml:"category"`
}
