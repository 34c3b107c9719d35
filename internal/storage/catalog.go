package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"

	"senhts/internal/raster"
)

// ObservationFilter narrows a catalog query. Zero fields do not filter.
// The time range is half-open: Start <= captured < End.
type ObservationFilter struct {
	Sensor       raster.Sensor
	Collection   string
	Orbits       []string
	Polarization string
	Start        time.Time
	End          time.Time
	// Bands limits which bands are loaded; empty loads all.
	Bands []string
}

// ObservationRecord is a catalog row without pixel data.
type ObservationRecord struct {
	ID           int64
	Sensor       raster.Sensor
	Collection   string
	Captured     time.Time
	Orbit        string
	Polarization string
	Grid         raster.Grid
	SourcePath   string
}

func (f ObservationFilter) apply(q sq.SelectBuilder) sq.SelectBuilder {
	if f.Sensor != "" {
		q = q.Where(sq.Eq{"sensor": string(f.Sensor)})
	}
	if f.Collection != "" {
		q = q.Where(sq.Eq{"collection": f.Collection})
	}
	if len(f.Orbits) > 0 {
		q = q.Where(sq.Eq{"orbit": f.Orbits})
	}
	if f.Polarization != "" {
		q = q.Where(sq.Eq{"polarization": f.Polarization})
	}
	if !f.Start.IsZero() {
		q = q.Where(sq.GtOrEq{"captured_ns": f.Start.UnixNano()})
	}
	if !f.End.IsZero() {
		q = q.Where(sq.Lt{"captured_ns": f.End.UnixNano()})
	}
	return q
}

// InsertObservation stores obs and its bands. Re-inserting an observation
// with the same sensor, collection, capture time and orbit is a no-op that
// returns the existing id and inserted=false.
func (s *Store) InsertObservation(ctx context.Context, obs raster.Observation, sourcePath string) (id int64, inserted bool, err error) {
	if s == nil {
		return 0, false, errors.New("store not initialized")
	}
	if err := obs.Validate(); err != nil {
		return 0, false, err
	}
	err = withTx(ctx, s.DB, func(tx *sql.Tx) error {
		query, args, err := sq.Select("id").From("observations").Where(sq.Eq{
			"sensor":      string(obs.Sensor),
			"collection":  obs.Collection,
			"captured_ns": obs.Captured.UnixNano(),
			"orbit":       obs.Orbit,
		}).ToSql()
		if err != nil {
			return err
		}
		switch err := tx.QueryRowContext(ctx, query, args...).Scan(&id); {
		case err == nil:
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		query, args, err = sq.Insert("observations").
			Columns("sensor", "collection", "captured_ns", "orbit", "polarization", "width", "height", "source_path").
			Values(string(obs.Sensor), obs.Collection, obs.Captured.UnixNano(), obs.Orbit, obs.Polarization, obs.Grid.Width, obs.Grid.Height, sourcePath).
			ToSql()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		inserted = true

		if len(obs.Bands) == 0 {
			return nil
		}
		ins := sq.Insert("observation_bands").Columns("observation_id", "position", "name", "nodata", "pixels")
		for pos, b := range obs.Bands {
			ins = ins.Values(id, pos, b.Name, int64(raster.NoData), raster.PackInt16(raster.EncodeBand(b, raster.NoData)))
		}
		query, args, err = ins.ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("insert %s observation at %s: %w", obs.Sensor, obs.Captured.Format(time.RFC3339), err)
	}
	return id, inserted, nil
}

// ListObservations returns catalog rows matching f ordered by capture time.
func (s *Store) ListObservations(ctx context.Context, f ObservationFilter) ([]ObservationRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	q := f.apply(sq.Select("id", "sensor", "collection", "captured_ns", "orbit", "polarization", "width", "height", "source_path").
		From("observations")).OrderBy("captured_ns ASC", "id ASC")
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []ObservationRecord
	for rows.Next() {
		var rec ObservationRecord
		var sensor string
		var captured int64
		var orbit, pol, src sql.NullString
		if err := rows.Scan(&rec.ID, &sensor, &rec.Collection, &captured, &orbit, &pol, &rec.Grid.Width, &rec.Grid.Height, &src); err != nil {
			return nil, err
		}
		rec.Sensor = raster.Sensor(sensor)
		rec.Captured = time.Unix(0, captured).UTC()
		rec.Orbit, rec.Polarization, rec.SourcePath = orbit.String, pol.String, src.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// QueryObservations returns the observations matching f with their pixel
// data decoded.
func (s *Store) QueryObservations(ctx context.Context, f ObservationFilter) ([]raster.Observation, error) {
	recs, err := s.ListObservations(ctx, f)
	if err != nil || len(recs) == 0 {
		return nil, err
	}

	ids := make([]int64, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	q := sq.Select("observation_id", "position", "name", "nodata", "pixels").
		From("observation_bands").
		Where(sq.Eq{"observation_id": ids})
	if len(f.Bands) > 0 {
		q = q.Where(sq.Eq{"name": f.Bands})
	}
	query, args, err := q.OrderBy("observation_id", "position").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int64]*raster.Observation, len(recs))
	out := make([]raster.Observation, len(recs))
	for i, r := range recs {
		out[i] = raster.Observation{
			Sensor:       r.Sensor,
			Collection:   r.Collection,
			Captured:     r.Captured,
			Orbit:        r.Orbit,
			Polarization: r.Polarization,
			Raster:       raster.Raster{Grid: r.Grid},
		}
		byID[r.ID] = &out[i]
	}
	for rows.Next() {
		var (
			obsID  int64
			pos    int
			name   string
			nodata int64
			blob   []byte
		)
		if err := rows.Scan(&obsID, &pos, &name, &nodata, &blob); err != nil {
			return nil, err
		}
		o := byID[obsID]
		pixels, err := raster.UnpackInt16(blob)
		if err != nil {
			return nil, fmt.Errorf("observation %d band %s: %w", obsID, name, err)
		}
		if len(pixels) != o.Grid.Size() {
			return nil, fmt.Errorf("observation %d band %s has %d pixels, want %d", obsID, name, len(pixels), o.Grid.Size())
		}
		o.Bands = append(o.Bands, raster.DecodeBand(name, pixels, int16(nodata)))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(f.Bands) > 0 {
		order := make(map[string]int, len(f.Bands))
		for i, b := range f.Bands {
			order[b] = i
		}
		for i := range out {
			sort.SliceStable(out[i].Bands, func(a, b int) bool {
				return order[out[i].Bands[a].Name] < order[out[i].Bands[b].Name]
			})
		}
	}
	return out, nil
}

// CountObservations returns the number of catalog rows per sensor.
func (s *Store) CountObservations(ctx context.Context) (map[raster.Sensor]int, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	query, args, err := sq.Select("sensor", "COUNT(*)").From("observations").GroupBy("sensor").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[raster.Sensor]int)
	for rows.Next() {
		var sensor string
		var n int
		if err := rows.Scan(&sensor, &n); err != nil {
			return nil, err
		}
		counts[raster.Sensor(sensor)] = n
	}
	return counts, rows.Err()
}
