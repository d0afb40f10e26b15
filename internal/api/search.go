package api

import (
	"net/http"
	"strconv"

	"github.com/promptshelf/promptshelf/internal/index"
)

type searchResponse struct {
	Query string      `json:"query"`
	Hits  []index.Hit `json:"hits"`
}

// handleSearch answers GET /api/search?q=&project=&limit= from the prompt
// index.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		s.fail(w, r, ErrSearchDisabled)
		return
	}

	q := r.URL.Query()
	limit := index.DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	hits, err := s.search.Search(r.Context(), q.Get("q"), q.Get("project"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if hits == nil {
		hits = []index.Hit{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: q.Get("q"), Hits: hits})
}
