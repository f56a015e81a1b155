package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
	"github.com/sells-group/mapbiomas-cli/internal/region"
	"github.com/sells-group/mapbiomas-cli/internal/report"
	"github.com/sells-group/mapbiomas-cli/internal/store"
	"github.com/sells-group/mapbiomas-cli/internal/viewer"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLegend(w http.ResponseWriter, r *http.Request) {
	tag := s.lang(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"lang":    tag.String(),
		"classes": s.session.Legend(tag),
	})
}

func (s *Server) handleYears(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"years":   s.session.Years(),
		"default": landcover.DefaultYear,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

// selectionRequest is the body of POST /v1/layers and /v1/areas. Region is
// GeoJSON; absent or null means no region.
type selectionRequest struct {
	Years   []int           `json:"years"`
	Classes []int           `json:"classes"`
	Region  json.RawMessage `json:"region"`
	Refresh bool            `json:"refresh"`
}

func decodeSelection(w http.ResponseWriter, r *http.Request) (*selectionRequest, error) {
	var req selectionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return nil, &landcover.ValidationError{Field: "body", Reason: "invalid request body", Err: err}
	}
	return &req, nil
}

// parseRegion returns nil for an absent region.
func parseRegion(raw json.RawMessage) (*region.Region, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	r, err := region.Parse(raw)
	if errors.Is(err, landcover.ErrNoRegion) {
		return nil, nil
	}
	return r, err
}

type layersResponse struct {
	Layers []landcover.Layer       `json:"layers"`
	Legend []landcover.LegendEntry `json:"legend"`
}

func (s *Server) handleLayersQuery(w http.ResponseWriter, r *http.Request) {
	first, last := s.session.YearRange()
	years, err := landcover.ParseYears(r.URL.Query().Get("years"), first, last)
	if err != nil {
		s.writeError(w, err)
		return
	}
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	s.serveLayers(w, r, years, nil, refresh)
}

func (s *Server) handleLayersBody(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSelection(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	reg, err := parseRegion(req.Region)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveLayers(w, r, req.Years, reg, req.Refresh)
}

// serveLayers answers from the layer cache where possible and publishes the
// rest in one session call. refresh drops the region's cached layers first.
func (s *Server) serveLayers(w http.ResponseWriter, r *http.Request, years []int, clip *region.Region, refresh bool) {
	hash := ""
	if clip != nil {
		h, err := clip.Hash()
		if err != nil {
			s.writeError(w, err)
			return
		}
		hash = h
	}
	if refresh {
		s.cache.InvalidateRegion(hash)
	}

	var layers []landcover.Layer
	var missing []int
	for _, y := range years {
		if l, ok := s.cache.Get(y, hash); ok {
			layers = append(layers, l)
			continue
		}
		missing = append(missing, y)
	}
	if len(missing) > 0 || len(years) == 0 {
		fresh, err := s.session.Layers(r.Context(), missing, clip)
		if err != nil {
			s.writeError(w, err)
			return
		}
		for _, l := range fresh {
			s.cache.Put(hash, l)
		}
		layers = append(layers, fresh...)
	}
	sort.Slice(layers, func(i, j int) bool { return layers[i].Year < layers[j].Year })

	writeJSON(w, http.StatusOK, layersResponse{Layers: layers, Legend: s.session.Legend(s.lang(r))})
}

type areasResponse struct {
	Records  []landcover.AreaRecord `json:"records"`
	Failures []landcover.Failure    `json:"failures,omitempty"`
	Series   []report.ClassSeries   `json:"series,omitempty"`
	RunID    string                 `json:"run_id,omitempty"`
	Cached   bool                   `json:"cached,omitempty"`
	Message  string                 `json:"message,omitempty"`
}

// handleAreas aggregates areas. ?format= switches from the JSON envelope to
// a report encoding (csv, xlsx, geojson).
func (s *Server) handleAreas(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSelection(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	classes, err := landcover.ValidateClasses(req.Classes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	reg, err := parseRegion(req.Region)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp, err := s.session.Areas(r.Context(), viewer.AreaRequest{
		Years:   req.Years,
		Classes: classes,
		Region:  reg,
		Refresh: req.Refresh,
	})
	if errors.Is(err, landcover.ErrNoRegion) {
		writeJSON(w, http.StatusOK, areasResponse{Records: []landcover.AreaRecord{}, Message: "no region"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	tag := s.lang(r)
	res := relabel(resp.Result, tag)

	if f := r.URL.Query().Get("format"); f != "" && f != string(report.FormatJSON) {
		s.writeReport(w, f, res, reg, tag)
		return
	}

	series := report.Series(res)
	if !report.Chartable(series) {
		series = nil
	}
	writeJSON(w, http.StatusOK, areasResponse{
		Records:  res.Records,
		Failures: res.Failures,
		Series:   series,
		RunID:    resp.RunID,
		Cached:   resp.Cached,
	})
}

var reportContentTypes = map[report.Format]string{
	report.FormatTable:   "text/plain; charset=utf-8",
	report.FormatCSV:     "text/csv",
	report.FormatXLSX:    "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	report.FormatGeoJSON: "application/geo+json",
}

func (s *Server) writeReport(w http.ResponseWriter, name string, res *landcover.AreaResult, reg *region.Region, tag language.Tag) {
	f, err := report.ParseFormat(name)
	if err != nil {
		s.writeError(w, landcover.NewValidationError("format", err.Error()))
		return
	}
	opts := report.Options{Lang: tag}
	if reg != nil {
		opts.Region = reg
	}
	var buf bytes.Buffer
	if err := report.Write(&buf, f, res, opts); err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", reportContentTypes[f])
	w.Header().Set("Content-Disposition", `attachment; filename="areas.`+string(f)+`"`)
	_, _ = w.Write(buf.Bytes())
}

// relabel renames records for tag without touching the cached result.
func relabel(res *landcover.AreaResult, tag language.Tag) *landcover.AreaResult {
	out := &landcover.AreaResult{
		Records:  make([]landcover.AreaRecord, len(res.Records)),
		Failures: res.Failures,
	}
	for i, rec := range res.Records {
		rec.Name = rec.Class.Name(tag)
		out.Records[i] = rec
	}
	return out
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		RegionHash:     q.Get("region_hash"),
		IncludeExpired: q.Get("include_expired") == "true",
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, landcover.NewValidationError(name, "must be a non-negative integer"))
			return
		}
		*dst = n
	}

	runs, err := s.session.Store().ListRuns(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.session.Store().GetRun(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Debug("run fetched", zap.String("run_id", id))
	writeJSON(w, http.StatusOK, run)
}
