package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/ukcovid/internal/dashboard"
	"github.com/TobiSchelling/ukcovid/internal/dataset"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithFields(log.Fields{"prefix": logPrefix, "error": err}).Warn("encoding response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) apiSelection(w http.ResponseWriter, r *http.Request) (selection, bool) {
	sel, err := s.parseSelection(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return sel, false
	}
	return sel, true
}

func (s *Server) apiSummary(w http.ResponseWriter, r *http.Request) {
	sel, ok := s.apiSelection(w, r)
	if !ok {
		return
	}
	summary, found := dashboard.Summarize(s.ing.Dataset(dataset.Totals), sel.Date)
	if !found {
		writeError(w, http.StatusNotFound, "no totals for "+sel.Date)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) apiTable(w http.ResponseWriter, r *http.Request) {
	sel, ok := s.apiSelection(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dashboard.Table(s.ing.Dataset(dataset.Daily), sel.Date, sel.Areas, sel.Mode))
}

func (s *Server) apiTop(w http.ResponseWriter, r *http.Request) {
	sel, ok := s.apiSelection(w, r)
	if !ok {
		return
	}

	metric := dashboard.Cases
	switch strings.ToLower(r.URL.Query().Get("metric")) {
	case "", "cases":
	case "deaths":
		metric = dashboard.Deaths
	default:
		writeError(w, http.StatusBadRequest, "metric must be cases or deaths")
		return
	}

	n := s.opts.TopN
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = v
	}

	writeJSON(w, http.StatusOK, dashboard.Top(s.ing.Dataset(dataset.Daily), sel.Date, sel.Areas, sel.Mode, metric, n))
}

func (s *Server) apiAreaTimelines(w http.ResponseWriter, r *http.Request) {
	areas := nonEmpty(r.URL.Query()["area"])
	writeJSON(w, http.StatusOK, dashboard.AreaTimelines(s.ing.Dataset(dataset.Daily), areas, s.opts.DefaultArea))
}

func (s *Server) apiNationalTimeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dashboard.NationalTimeline(s.ing.Dataset(dataset.Daily), s.ing.Dataset(dataset.Totals)))
}

func (s *Server) apiAreas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dashboard.AreaNames(s.ing.Dataset(dataset.Daily)))
}

func (s *Server) apiDates(w http.ResponseWriter, r *http.Request) {
	kind := dataset.Daily
	if raw := r.URL.Query().Get("kind"); raw != "" {
		k, err := dataset.ParseKind(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = k
	}
	writeJSON(w, http.StatusOK, dashboard.Dates(s.ing.Dataset(kind)))
}
