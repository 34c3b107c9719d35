package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"senhts/internal/export"
	"senhts/internal/raster"
	"senhts/internal/storage"
	"senhts/internal/tasks"
)

func (s *Server) setupStackRoutes(r *mux.Router) {
	r.HandleFunc("/stacks", s.handleStacks).Methods("GET")
	r.HandleFunc("/stacks/{id}", s.handleStack).Methods("GET")
	r.HandleFunc("/stacks/{id}/bands", s.handleStackBands).Methods("GET")
	r.HandleFunc("/stacks/{id}/chart", s.handleStackChart).Methods("GET")
}

type stackView struct {
	ID        string                   `json:"id"`
	JobID     string                   `json:"job_id"`
	AssetID   string                   `json:"asset_id"`
	CRS       string                   `json:"crs"`
	Width     int                      `json:"width"`
	Height    int                      `json:"height"`
	Scale     float64                  `json:"scale"`
	BandCount int                      `json:"band_count"`
	BaseBands []string                 `json:"base_bands"`
	Intervals []storage.IntervalRecord `json:"intervals"`
	CreatedAt time.Time                `json:"created_at"`
}

func newStackView(rec storage.StackRecord) stackView {
	return stackView{
		ID:        rec.ID,
		JobID:     rec.JobID,
		AssetID:   rec.AssetID,
		CRS:       rec.Transform.CRS,
		Width:     rec.Grid.Width,
		Height:    rec.Grid.Height,
		Scale:     rec.Scale,
		BandCount: rec.BandCount,
		BaseBands: rec.BaseBands,
		Intervals: rec.Intervals,
		CreatedAt: rec.CreatedAt,
	}
}

// bandView carries pixel values row-major; invalid pixels are null.
type bandView struct {
	Name   string     `json:"name"`
	Values []*float64 `json:"values"`
}

func (s *Server) handleStacks(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListStacks(r.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]stackView, len(recs))
	for i, rec := range recs {
		views[i] = newStackView(rec)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleStack(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Stack(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStackView(rec))
}

func (s *Server) handleStackBands(w http.ResponseWriter, r *http.Request) {
	stack, _, err := export.Load(r.Context(), s.store, mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}

	q := r.URL.Query()
	bands := stack.Raster()
	if v := q.Get("interval"); v != "" {
		idx, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid interval", http.StatusBadRequest)
			return
		}
		if bands, err = stack.SelectInterval(idx); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
	}
	if prefix := q.Get("prefix"); prefix != "" {
		bands = filterBase(bands, prefix)
	}

	views := make([]bandView, len(bands.Bands))
	for i, b := range bands.Bands {
		views[i] = bandView{Name: b.Name, Values: make([]*float64, len(b.Values))}
		for p := range b.Values {
			if b.Valid[p] {
				v := b.Values[p]
				views[i].Values[p] = &v
			}
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func filterBase(r raster.Raster, base string) raster.Raster {
	out := raster.Raster{Grid: r.Grid}
	for _, b := range r.Bands {
		if name, _, ok := tasks.SplitBandName(b.Name); (ok && name == base) || b.Name == base {
			out.Bands = append(out.Bands, b)
		}
	}
	return out
}

func (s *Server) handleStackChart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	stack, rec, err := export.Load(r.Context(), s.store, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	q := r.URL.Query()
	band := q.Get("band")
	if band == "" {
		http.Error(w, "band is required", http.StatusBadRequest)
		return
	}
	x, errX := strconv.ParseFloat(q.Get("x"), 64)
	y, errY := strconv.ParseFloat(q.Get("y"), 64)
	if errX != nil || errY != nil {
		http.Error(w, "x and y must be numbers", http.StatusBadRequest)
		return
	}
	col, row, ok := rec.Transform.PixelAt(stack.Grid, x, y)
	if !ok {
		http.Error(w, fmt.Sprintf("point (%g,%g) is outside the stack", x, y), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := export.RenderChart(w, stack, id, band, col, row); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, tasks.ErrUnknownBand) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
