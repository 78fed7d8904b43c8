package search

import "context"

// Result is a single transcript hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Path    string `json:"path"`
}

// Query describes a search request. UserID scopes every query to the
// caller's own transcripts.
type Query struct {
	Text   string
	UserID string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a transcript search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// TranscriptRecord is the data we index per transcript. Body is the
// concatenated message text.
type TranscriptRecord struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Title  string `json:"title"`
	Path   string `json:"path"`
	Body   string `json:"body"`
}
