package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"senhts/internal/raster"
)

// IntervalRecord is the persisted form of one stacked interval.
type IntervalRecord struct {
	Index int       `json:"index"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// StackRecord describes a persisted output stack.
type StackRecord struct {
	ID        string
	JobID     string
	AssetID   string
	Grid      raster.Grid
	Transform raster.GeoTransform
	Scale     float64
	Intervals []IntervalRecord
	BaseBands []string
	BandCount int
	CreatedAt time.Time
}

var stackColumns = []string{
	"id", "job_id", "asset_id", "crs", "origin_x", "origin_y", "pixel_size",
	"width", "height", "scale", "intervals_json", "base_bands_json", "band_count", "created_ns",
}

// SaveStack persists rec and its bands in stack order. An existing stack
// with the same id is replaced.
func (s *Store) SaveStack(ctx context.Context, rec StackRecord, bands []raster.Band) error {
	if s == nil {
		return errors.New("store not initialized")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.BandCount = len(bands)
	intervals, err := json.Marshal(rec.Intervals)
	if err != nil {
		return err
	}
	base, err := json.Marshal(rec.BaseBands)
	if err != nil {
		return err
	}

	return withTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, table := range []string{"stack_bands", "stacks"} {
			col := "stack_id"
			if table == "stacks" {
				col = "id"
			}
			query, args, err := sq.Delete(table).Where(sq.Eq{col: rec.ID}).ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}

		query, args, err := sq.Insert("stacks").Columns(stackColumns...).Values(
			rec.ID, rec.JobID, rec.AssetID, rec.Transform.CRS, rec.Transform.OriginX, rec.Transform.OriginY,
			rec.Transform.PixelSize, rec.Grid.Width, rec.Grid.Height, rec.Scale, string(intervals), string(base),
			rec.BandCount, rec.CreatedAt.UnixNano(),
		).ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert stack %s: %w", rec.ID, err)
		}

		for pos, b := range bands {
			if len(b.Values) != rec.Grid.Size() {
				return fmt.Errorf("stack band %s has %d pixels, grid has %d", b.Name, len(b.Values), rec.Grid.Size())
			}
			query, args, err := sq.Insert("stack_bands").
				Columns("stack_id", "position", "name", "nodata", "pixels").
				Values(rec.ID, pos, b.Name, int64(raster.NoData), raster.PackInt16(raster.EncodeBand(b, raster.NoData))).
				ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert stack band %s: %w", b.Name, err)
			}
		}
		return nil
	})
}

// Stack returns the stack header for id.
func (s *Store) Stack(ctx context.Context, id string) (StackRecord, error) {
	recs, err := s.queryStacks(ctx, sq.Select(stackColumns...).From("stacks").Where(sq.Eq{"id": id}))
	if err != nil {
		return StackRecord{}, err
	}
	if len(recs) == 0 {
		return StackRecord{}, fmt.Errorf("stack %s: %w", id, ErrNotFound)
	}
	return recs[0], nil
}

// ListStacks returns the most recent stacks up to limit.
func (s *Store) ListStacks(ctx context.Context, limit int) ([]StackRecord, error) {
	q := sq.Select(stackColumns...).From("stacks").OrderBy("created_ns DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.queryStacks(ctx, q)
}

func (s *Store) queryStacks(ctx context.Context, q sq.SelectBuilder) ([]StackRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []StackRecord
	for rows.Next() {
		var rec StackRecord
		var jobID sql.NullString
		var intervals, base string
		var created int64
		if err := rows.Scan(&rec.ID, &jobID, &rec.AssetID, &rec.Transform.CRS, &rec.Transform.OriginX, &rec.Transform.OriginY,
			&rec.Transform.PixelSize, &rec.Grid.Width, &rec.Grid.Height, &rec.Scale, &intervals, &base, &rec.BandCount, &created); err != nil {
			return nil, err
		}
		rec.JobID = jobID.String
		rec.CreatedAt = time.Unix(0, created).UTC()
		if err := json.Unmarshal([]byte(intervals), &rec.Intervals); err != nil {
			return nil, fmt.Errorf("stack %s intervals: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(base), &rec.BaseBands); err != nil {
			return nil, fmt.Errorf("stack %s bands: %w", rec.ID, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// StackBands loads the named bands of stack id in stack order. With no
// names every band is returned.
func (s *Store) StackBands(ctx context.Context, id string, names ...string) ([]raster.Band, error) {
	rec, err := s.Stack(ctx, id)
	if err != nil {
		return nil, err
	}
	q := sq.Select("name", "nodata", "pixels").From("stack_bands").Where(sq.Eq{"stack_id": id})
	if len(names) > 0 {
		q = q.Where(sq.Eq{"name": names})
	}
	query, args, err := q.OrderBy("position").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bands []raster.Band
	for rows.Next() {
		var name string
		var nodata int64
		var blob []byte
		if err := rows.Scan(&name, &nodata, &blob); err != nil {
			return nil, err
		}
		pixels, err := raster.UnpackInt16(blob)
		if err != nil {
			return nil, fmt.Errorf("stack %s band %s: %w", id, name, err)
		}
		if len(pixels) != rec.Grid.Size() {
			return nil, fmt.Errorf("stack %s band %s has %d pixels, want %d", id, name, len(pixels), rec.Grid.Size())
		}
		bands = append(bands, raster.DecodeBand(name, pixels, int16(nodata)))
	}
	return bands, rows.Err()
}
