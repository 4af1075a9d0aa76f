package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/catalog/internal/core"
	"github.com/JonMunkholm/catalog/internal/store"
)

// maxBulkItems caps the records or ids of one bulk request.
const maxBulkItems = 1000

type updateManyRequest struct {
	IDs    []any          `json:"ids"`
	Values map[string]any `json:"values"`
}

type deleteManyRequest struct {
	IDs []any `json:"ids"`
}

// bulkResponse reports per-item results in request order.
type bulkResponse struct {
	Results   []core.Result `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

func newBulkResponse(results []core.Result) bulkResponse {
	resp := bulkResponse{Results: results}
	for _, res := range results {
		if res.OK() {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	return resp
}

// handleCreateMany inserts each record of a JSON array body.
func (s *Server) handleCreateMany(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	def, err := s.definition(entity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var body []map[string]any
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}
	if err := checkBulkSize(len(body)); err != nil {
		respondError(w, r, err)
		return
	}
	records := make([]store.Record, len(body))
	for i, raw := range body {
		if records[i], err = typedRecord(def, raw); err != nil {
			respondError(w, r, err)
			return
		}
	}
	meta, err := selectMeta(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}

	results, err := s.service.CreateMany(r.Context(), entity, records, meta)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, newBulkResponse(results))
}

// handleUpdateMany applies {values} to every id of {ids}.
func (s *Server) handleUpdateMany(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	def, err := s.definition(entity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var body updateManyRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}
	if err := checkBulkSize(len(body.IDs)); err != nil {
		respondError(w, r, err)
		return
	}
	if len(body.Values) == 0 {
		respondError(w, r, badRequest("values must not be empty"))
		return
	}
	ids, err := jsonIDs(def, body.IDs)
	if err != nil {
		respondError(w, r, err)
		return
	}
	values, err := typedRecord(def, body.Values)
	if err != nil {
		respondError(w, r, err)
		return
	}
	meta, err := selectMeta(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}

	results, err := s.service.UpdateMany(r.Context(), entity, ids, values, meta)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, newBulkResponse(results))
}

// handleDeleteMany deletes every id of {ids}.
func (s *Server) handleDeleteMany(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	def, err := s.definition(entity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	var body deleteManyRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}
	if err := checkBulkSize(len(body.IDs)); err != nil {
		respondError(w, r, err)
		return
	}
	ids, err := jsonIDs(def, body.IDs)
	if err != nil {
		respondError(w, r, err)
		return
	}
	meta, err := selectMeta(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}

	results, err := s.service.DeleteMany(r.Context(), entity, ids, meta)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, newBulkResponse(results))
}

func checkBulkSize(n int) error {
	switch {
	case n == 0:
		return badRequest("at least one item is required")
	case n > maxBulkItems:
		return badRequest("too many items in one request")
	}
	return nil
}
