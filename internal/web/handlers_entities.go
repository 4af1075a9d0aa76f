package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListEntities returns the registered entities with their columns
// and relations.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.ListEntities())
}

// handleList returns one page of an entity as {data, total}.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := ListParams(s.service.Registry(), chi.URLParam(r, "entity"), r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.service.GetList(r.Context(), params)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// handleGetOne returns a single record by id.
func (s *Server) handleGetOne(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	def, err := s.definition(entity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	id, err := pathID(def, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	meta, err := selectMeta(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}

	rec, err := s.service.GetOne(r.Context(), entity, id, meta)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"data": rec})
}

// handleGetMany returns the records for ?id=a&id=b or ?id=a,b.
func (s *Server) handleGetMany(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	def, err := s.definition(entity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	q := r.URL.Query()
	ids, err := queryIDs(def, q)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if len(ids) == 0 {
		respondError(w, r, badRequest("at least one id is required"))
		return
	}
	meta, err := selectMeta(q)
	if err != nil {
		respondError(w, r, err)
		return
	}

	recs, err := s.service.GetMany(r.Context(), entity, ids, meta)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"data": recs})
}

// handleCreate inserts the JSON body as a new record.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	def, err := s.definition(entity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	values, err := decodeRecord(w, r, def)
	if err != nil {
		respondError(w, r, err)
		return
	}
	meta, err := selectMeta(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}

	rec, err := s.service.Create(r.Context(), entity, values, meta)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]any{"data": rec})
}

// handleUpdate applies the JSON body to the record with the path id.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	def, err := s.definition(entity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	id, err := pathID(def, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	values, err := decodeRecord(w, r, def)
	if err != nil {
		respondError(w, r, err)
		return
	}
	meta, err := selectMeta(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}

	rec, err := s.service.Update(r.Context(), entity, id, values, meta)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"data": rec})
}

// handleDelete removes the record with the path id and returns it.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	def, err := s.definition(entity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	id, err := pathID(def, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	meta, err := selectMeta(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}

	rec, err := s.service.DeleteOne(r.Context(), entity, id, meta)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"data": rec})
}
