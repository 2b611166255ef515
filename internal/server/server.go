// Package server serves the dashboard pages, the JSON API behind them and
// the ingest form.
package server

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/ukcovid/internal/dashboard"
	"github.com/TobiSchelling/ukcovid/internal/database"
	"github.com/TobiSchelling/ukcovid/internal/dataset"
	"github.com/TobiSchelling/ukcovid/internal/pipeline"
)

const logPrefix = "server"

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Ingester is the part of the pipeline the server drives.
type Ingester interface {
	Dataset(kind dataset.Kind) *dataset.Dataset
	IngestAll(ctx context.Context, date string) []pipeline.Result
}

// RunLog lists recent ingest runs.
type RunLog interface {
	GetRecentRuns(ctx context.Context, limit int) ([]database.IngestRun, error)
}

// Options carry the dashboard settings.
type Options struct {
	TopN        int
	TableRows   int
	DefaultArea string
	MinDate     string

	// Local and Postcodes enable the local area view; either may be nil.
	Local            LocalAreaSource
	Postcodes        PostcodeFinder
	DefaultLocalArea string
}

// Server is the HTTP server for the dashboard.
type Server struct {
	ing   Ingester
	runs  RunLog
	opts  Options
	pages map[string]*template.Template
	mux   *http.ServeMux
}

// New creates a new Server.
func New(ing Ingester, runs RunLog, opts Options) (*Server, error) {
	if opts.TopN <= 0 {
		opts.TopN = 5
	}
	if opts.TableRows <= 0 {
		opts.TableRows = 10
	}

	funcMap := template.FuncMap{
		"markdown":   renderMarkdown,
		"formatDate": database.FormatDateDisplay,
		"selected": func(list []string, v string) bool {
			for _, s := range list {
				if s == v {
					return true
				}
			}
			return false
		},
		"coord": func(v *float64) string {
			if v == nil {
				return ""
			}
			return fmt.Sprintf("%.4f", *v)
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so {{define "content"}} does not clash.
	pageNames := []string{"index.html", "local.html", "ingest.html", "runs.html", "about.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{ing: ing, runs: runs, opts: opts, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/ingest", s.handleIngest)
	s.mux.HandleFunc("/local", s.handleLocal)
	s.mux.HandleFunc("/runs", s.handleRuns)
	s.mux.HandleFunc("/about", s.handleAbout)

	s.mux.HandleFunc("/api/summary", s.apiSummary)
	s.mux.HandleFunc("/api/table", s.apiTable)
	s.mux.HandleFunc("/api/top", s.apiTop)
	s.mux.HandleFunc("/api/timeline/areas", s.apiAreaTimelines)
	s.mux.HandleFunc("/api/timeline/national", s.apiNationalTimeline)
	s.mux.HandleFunc("/api/areas", s.apiAreas)
	s.mux.HandleFunc("/api/dates", s.apiDates)

	s.mux.HandleFunc("/api/local/table", s.apiLocalTable)
	s.mux.HandleFunc("/api/local/timeline", s.apiLocalTimeline)
	s.mux.HandleFunc("/api/local/filters", s.apiLocalFilters)
	s.mux.HandleFunc("/api/local/postcode", s.apiPostcode)
}

// selection is the filter state shared by the page and the API.
type selection struct {
	Date  string
	Mode  dashboard.Mode
	Areas []string
}

// parseSelection reads date, mode and area parameters. A missing date
// falls back to the latest date of the daily dataset.
func (s *Server) parseSelection(r *http.Request) (selection, error) {
	q := r.URL.Query()
	sel := selection{
		Mode:  dashboard.ParseMode(q.Get("mode")),
		Areas: nonEmpty(q["area"]),
	}
	if raw := strings.TrimSpace(q.Get("date")); raw != "" {
		date, err := dataset.NormalizeDate(raw)
		if err != nil {
			return sel, err
		}
		sel.Date = date
	} else {
		sel.Date = s.ing.Dataset(dataset.Daily).LatestDate()
	}
	return sel, nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	sel, err := s.parseSelection(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	daily := s.ing.Dataset(dataset.Daily)
	totals := s.ing.Dataset(dataset.Totals)

	table := dashboard.Table(daily, sel.Date, sel.Areas, sel.Mode)
	if len(table) > s.opts.TableRows {
		table = table[:s.opts.TableRows]
	}
	summary, hasSummary := dashboard.Summarize(totals, sel.Date)

	s.render(w, "index.html", map[string]any{
		"Selection":  sel,
		"Mode":       sel.Mode.String(),
		"Summary":    summary,
		"HasSummary": hasSummary,
		"TopCases":   dashboard.Top(daily, sel.Date, sel.Areas, sel.Mode, dashboard.Cases, s.opts.TopN),
		"TopDeaths":  dashboard.Top(daily, sel.Date, sel.Areas, sel.Mode, dashboard.Deaths, s.opts.TopN),
		"Table":      table,
		"Areas":      dashboard.AreaNames(daily),
		"Dates":      dashboard.Dates(daily),
		"MinDate":    s.opts.MinDate,
		"Today":      database.GetToday(),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	date, err := dataset.NormalizeDate(r.FormValue("date"))
	if err != nil {
		s.render(w, "ingest.html", map[string]any{"Error": err.Error()})
		return
	}

	results := s.ing.IngestAll(context.WithoutCancel(r.Context()), date)
	for _, res := range results {
		log.WithFields(log.Fields{
			"prefix":  logPrefix,
			"kind":    res.Kind,
			"date":    res.Date,
			"outcome": res.Outcome,
		}).Info(res.Message())
	}

	s.render(w, "ingest.html", map[string]any{
		"Date":    date,
		"Results": results,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.GetRecentRuns(r.Context(), 50)
	if err != nil {
		log.WithFields(log.Fields{"prefix": logPrefix, "error": err}).Error("listing ingest runs")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, "runs.html", map[string]any{"Runs": runs})
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	text, err := fs.ReadFile(staticFS, "static/about.md")
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, "about.html", map[string]any{"Body": string(text)})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.WithFields(log.Fields{"prefix": logPrefix, "template": name}).Error("template not found")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.WithFields(log.Fields{
			"prefix":   logPrefix,
			"template": name,
			"error":    err,
		}).Error("rendering template")
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Serve starts the HTTP server on the given port.
func Serve(ing Ingester, runs RunLog, opts Options, port int) error {
	srv, err := New(ing, runs, opts)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.WithFields(log.Fields{"prefix": logPrefix}).Infof("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
