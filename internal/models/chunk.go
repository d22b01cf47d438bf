package models

// Chunk is a span of source text stored and indexed as one retrieval unit.
type Chunk struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Index   int     `json:"index"`
	Page    int     `json:"page,omitempty"`
	Start   int     `json:"start"`
	End     int     `json:"end"`
	Score   float32 `json:"score,omitempty"`
}

// metadata keys shared by the vector stores
const (
	MetaSource = "source"
	MetaIndex  = "chunk_index"
	MetaStart  = "start"
	MetaEnd    = "end"
	MetaPage   = "page"
)

// PromptResponse is what a single chat turn hands back to the caller.
type PromptResponse struct {
	Query     string  `json:"query"`
	Rewritten bool    `json:"rewritten"`
	Content   string  `json:"content"`
	Sources   []Chunk `json:"sources"`
}
