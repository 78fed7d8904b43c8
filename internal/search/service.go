package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTranscript pushes a transcript to Meilisearch (fire-and-forget).
// Postgres remains the source of truth; a lost update here is repaired on
// the next save of the same chat.
func (s *Service) IndexTranscript(record TranscriptRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTranscript(record); err != nil {
			log.Printf("search: index transcript %s: %v", record.ID, err)
		}
	}()
}

// DeleteTranscript removes a transcript from the search index (fire-and-forget).
func (s *Service) DeleteTranscript(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTranscript(id); err != nil {
			log.Printf("search: delete transcript %s: %v", id, err)
		}
	}()
}

// DeleteTranscripts removes a batch of transcripts, used when a user clears
// their history.
func (s *Service) DeleteTranscripts(ids []string) {
	if s.meili == nil || !s.meili.Healthy() || len(ids) == 0 {
		return
	}
	go func() {
		for _, id := range ids {
			if err := s.meili.DeleteTranscript(id); err != nil {
				log.Printf("search: delete transcript %s: %v", id, err)
			}
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
