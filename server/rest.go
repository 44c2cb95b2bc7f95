package server

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/umputun/myfeed/pkg/domain"
	"github.com/umputun/myfeed/pkg/staging"
)

// statusHandler returns server status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	if err != nil {
		log.Printf("[ERROR] failed to count items: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"items":   count,
		"time":    time.Now().UTC(),
	}
	renderJSON(w, r, http.StatusOK, status)
}

// listHandler serves item queries: pagination, sorting and filtering
func (s *Server) listHandler(w http.ResponseWriter, r *http.Request) {
	req, err := parseListRequest(r)
	if err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}

	items, err := s.store.List(r.Context(), req)
	if err != nil {
		log.Printf("[ERROR] failed to list items: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	recs := make([]staging.Record, 0, len(items))
	for i := range items {
		recs = append(recs, staging.NewRecord(&items[i]))
	}
	renderJSON(w, r, http.StatusOK, map[string]interface{}{"items": recs, "count": len(recs)})
}

// parseListRequest builds a ListRequest from query parameters. Out-of-range
// values are rejected, not clamped.
func parseListRequest(r *http.Request) (domain.ListRequest, error) {
	q := r.URL.Query()

	req := domain.ListRequest{
		Limit:    100,
		OrderBy:  domain.SortWhen,
		Dir:      domain.DirDesc,
		Query:    q.Get("query"),
		Title:    q.Get("title"),
		Creator:  q.Get("creator"),
		Subtitle: q.Get("subtitle"),
	}

	// ftype is a comma-separated allow-list, repeatable
	for _, v := range q["ftype"] {
		for _, ft := range strings.Split(v, ",") {
			if ft = strings.TrimSpace(ft); ft != "" {
				req.Ftypes = append(req.Ftypes, ft)
			}
		}
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("invalid limit %q", v)
		}
		req.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("invalid offset %q", v)
		}
		req.Offset = n
	}
	if v := q.Get("order_by"); v != "" {
		req.OrderBy = v
	}
	if v := q.Get("sort"); v != "" {
		req.Dir = v
	}

	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// typesHandler returns the distinct ftypes present in the store
func (s *Server) typesHandler(w http.ResponseWriter, r *http.Request) {
	types, err := s.store.ListTypes(r.Context())
	if err != nil {
		log.Printf("[ERROR] failed to list types: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, map[string]interface{}{"types": types})
}

// idsHandler returns every synced item id, used by extract runs to skip
// already-synced records
func (s *Server) idsHandler(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.IDs(r.Context())
	if err != nil {
		log.Printf("[ERROR] failed to list ids: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, map[string]interface{}{"ids": ids})
}

// syncHandler triggers an immediate staging sync
func (s *Server) syncHandler(w http.ResponseWriter, r *http.Request) {
	added, err := s.syncer.Sync(r.Context())
	if err != nil {
		log.Printf("[ERROR] sync failed: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, map[string]int{"added": added})
}
