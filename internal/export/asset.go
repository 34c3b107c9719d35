// Package export hands a finished OutputStack to its consumers: the
// persisted asset, point samples, a quicklook image and per-pixel charts.
package export

import (
	"context"
	"errors"
	"fmt"

	"senhts/internal/raster"
	"senhts/internal/storage"
	"senhts/internal/tasks"
)

// ErrPixelBudget is returned when a stack exceeds the asset pixel budget.
var ErrPixelBudget = errors.New("stack exceeds pixel budget")

// StackStore persists and reloads stacks.
type StackStore interface {
	SaveStack(ctx context.Context, rec storage.StackRecord, bands []raster.Band) error
	Stack(ctx context.Context, id string) (storage.StackRecord, error)
	StackBands(ctx context.Context, id string, names ...string) ([]raster.Band, error)
}

// Asset persists stacks under an asset id with a resolution and pixel budget.
type Asset struct {
	Store     StackStore
	AssetID   string
	Scale     float64
	MaxPixels float64
}

// Pixels returns the pixel count the stack would occupy as an asset.
func Pixels(s tasks.OutputStack) float64 {
	return float64(s.Len()) * float64(s.Grid.Size())
}

// Export writes s as stack id. The band layout is the stack order.
func (a Asset) Export(ctx context.Context, id, jobID string, s tasks.OutputStack, transform raster.GeoTransform) (storage.StackRecord, error) {
	if a.Store == nil {
		return storage.StackRecord{}, errors.New("asset store not configured")
	}
	if a.MaxPixels > 0 && Pixels(s) > a.MaxPixels {
		return storage.StackRecord{}, fmt.Errorf("%w: %d bands x %d pixels > %g", ErrPixelBudget, s.Len(), s.Grid.Size(), a.MaxPixels)
	}
	rec := storage.StackRecord{
		ID:        id,
		JobID:     jobID,
		AssetID:   a.AssetID,
		Grid:      s.Grid,
		Transform: transform,
		Scale:     a.Scale,
		Intervals: make([]storage.IntervalRecord, len(s.Intervals)),
		BaseBands: s.BaseBands,
	}
	for i, ti := range s.Intervals {
		rec.Intervals[i] = storage.IntervalRecord{Index: ti.Index, Start: ti.Start, End: ti.End}
	}
	if err := a.Store.SaveStack(ctx, rec, s.Bands); err != nil {
		return storage.StackRecord{}, fmt.Errorf("export asset %s: %w", a.AssetID, err)
	}
	rec.BandCount = s.Len()
	return rec, nil
}

// Load rebuilds the stack persisted as id.
func Load(ctx context.Context, store StackStore, id string) (tasks.OutputStack, storage.StackRecord, error) {
	rec, err := store.Stack(ctx, id)
	if err != nil {
		return tasks.OutputStack{}, storage.StackRecord{}, err
	}
	bands, err := store.StackBands(ctx, id)
	if err != nil {
		return tasks.OutputStack{}, storage.StackRecord{}, err
	}
	return FromRecord(rec, bands), rec, nil
}

// FromRecord reassembles an OutputStack from its persisted parts.
func FromRecord(rec storage.StackRecord, bands []raster.Band) tasks.OutputStack {
	s := tasks.OutputStack{
		Grid:        rec.Grid,
		Intervals:   make([]tasks.TimeInterval, len(rec.Intervals)),
		BaseBands:   rec.BaseBands,
		Bands:       bands,
		PerInterval: len(rec.BaseBands),
	}
	for i, ir := range rec.Intervals {
		s.Intervals[i] = tasks.TimeInterval{Index: ir.Index, Start: ir.Start, End: ir.End}
	}
	return s
}
