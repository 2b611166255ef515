package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/ukcovid/internal/dashboard"
	"github.com/TobiSchelling/ukcovid/internal/dataset"
	"github.com/TobiSchelling/ukcovid/internal/geocode"
)

// LocalAreaSource serves the local area (MSOA) snapshot.
type LocalAreaSource interface {
	Records(ctx context.Context) ([]dataset.LocalAreaRecord, error)
}

// PostcodeFinder maps a postcode to its local area name.
type PostcodeFinder interface {
	LocalArea(ctx context.Context, postcode string) (string, error)
}

const invalidPostcode = "Please enter valid full postcode"

// localSelection is the filter state of the local area view.
type localSelection struct {
	Date     string
	Ltlas    []string
	Areas    []string
	Postcode string
	Message  string
}

// parseLocalSelection reads date, ltla, area and postcode parameters. A
// postcode that resolves selects its area when no area is chosen.
func (s *Server) parseLocalSelection(ctx context.Context, q url.Values, records []dataset.LocalAreaRecord) (localSelection, error) {
	get := func(key string) string { return strings.TrimSpace(q.Get(key)) }
	sel := localSelection{
		Ltlas:    nonEmpty(q["ltla"]),
		Areas:    nonEmpty(q["area"]),
		Postcode: strings.ToUpper(get("postcode")),
	}

	if raw := get("date"); raw != "" {
		date, err := dataset.NormalizeDate(raw)
		if err != nil {
			return sel, err
		}
		sel.Date = date
	} else {
		sel.Date = dashboard.LatestLocalDate(records)
	}

	if sel.Postcode != "" && s.opts.Postcodes != nil {
		area, err := s.opts.Postcodes.LocalArea(ctx, sel.Postcode)
		switch {
		case err != nil:
			sel.Message = invalidPostcode
			log.WithFields(log.Fields{"prefix": logPrefix, "postcode": sel.Postcode, "error": err}).Debug("postcode lookup failed")
		default:
			sel.Message = sel.Postcode + ": " + area
			if len(sel.Areas) == 0 {
				sel.Areas = []string{area}
			}
		}
	}
	return sel, nil
}

// localRecords fetches the snapshot, answering the request itself when the
// view is disabled or the source fails.
func (s *Server) localRecords(w http.ResponseWriter, r *http.Request, asJSON bool) ([]dataset.LocalAreaRecord, bool) {
	fail := func(status int, msg string) {
		if asJSON {
			writeError(w, status, msg)
			return
		}
		http.Error(w, msg, status)
	}
	if s.opts.Local == nil {
		fail(http.StatusNotFound, "local area view is not configured")
		return nil, false
	}
	records, err := s.opts.Local.Records(r.Context())
	if err != nil {
		log.WithFields(log.Fields{"prefix": logPrefix, "error": err}).Error("loading local area snapshot")
		fail(http.StatusBadGateway, "local area data is unavailable")
		return nil, false
	}
	return records, true
}

func (s *Server) handleLocal(w http.ResponseWriter, r *http.Request) {
	records, ok := s.localRecords(w, r, false)
	if !ok {
		return
	}
	sel, err := s.parseLocalSelection(r.Context(), r.URL.Query(), records)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	table := dashboard.LocalAreaTable(records, sel.Date, sel.Ltlas, sel.Areas)
	total := len(table)
	if limit := s.opts.TableRows * 5; len(table) > limit {
		table = table[:limit]
	}

	s.render(w, "local.html", map[string]any{
		"Selection": sel,
		"Table":     table,
		"Total":     total,
		"Timeline":  dashboard.LocalAreaTimelines(records, sel.Areas, sel.Ltlas, s.opts.DefaultLocalArea),
		"Options":   dashboard.LocalAreaFilters(records),
	})
}

func (s *Server) apiLocalTable(w http.ResponseWriter, r *http.Request) {
	records, ok := s.localRecords(w, r, true)
	if !ok {
		return
	}
	sel, err := s.parseLocalSelection(r.Context(), r.URL.Query(), records)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dashboard.LocalAreaTable(records, sel.Date, sel.Ltlas, sel.Areas))
}

func (s *Server) apiLocalTimeline(w http.ResponseWriter, r *http.Request) {
	records, ok := s.localRecords(w, r, true)
	if !ok {
		return
	}
	sel, err := s.parseLocalSelection(r.Context(), r.URL.Query(), records)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dashboard.LocalAreaTimelines(records, sel.Areas, sel.Ltlas, s.opts.DefaultLocalArea))
}

func (s *Server) apiLocalFilters(w http.ResponseWriter, r *http.Request) {
	records, ok := s.localRecords(w, r, true)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dashboard.LocalAreaFilters(records))
}

func (s *Server) apiPostcode(w http.ResponseWriter, r *http.Request) {
	if s.opts.Postcodes == nil {
		writeError(w, http.StatusNotFound, "postcode lookup is not configured")
		return
	}
	postcode := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("postcode")))
	if postcode == "" {
		writeError(w, http.StatusBadRequest, "postcode is required")
		return
	}

	area, err := s.opts.Postcodes.LocalArea(r.Context(), postcode)
	switch {
	case errors.Is(err, geocode.ErrNotFound):
		writeError(w, http.StatusNotFound, invalidPostcode)
		return
	case err != nil:
		log.WithFields(log.Fields{"prefix": logPrefix, "postcode": postcode, "error": err}).Error("postcode lookup")
		writeError(w, http.StatusBadGateway, "postcode lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"postcode": postcode, "area": area})
}
