package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/v2x.prep/internal/dataset"
	"github.com/banshee-data/v2x.prep/internal/lidar/labels"
	"github.com/banshee-data/v2x.prep/internal/monitoring"
)

// ErrNotIndexed is returned by LoadIndex when no index was saved for the
// requested root and split.
var ErrNotIndexed = errors.New("dataset split not indexed")

// Store is a sqlite-backed index cache.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index db %s: %w", path, err)
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for ad-hoc queries.
func (s *Store) DB() *sql.DB { return s.db }

// SaveIndex replaces whatever was stored for ix.Root and ix.Split.
func (s *Store) SaveIndex(ctx context.Context, ix *dataset.Index) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save index: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, table := range []string{"pairs", "frames", "datasets"} {
		if _, err = tx.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE data_root = ? AND split = ?", ix.Root, ix.Split); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if _, err = tx.ExecContext(ctx,
		"INSERT INTO datasets (data_root, split) VALUES (?, ?)", ix.Root, ix.Split); err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}

	frameStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO frames (data_root, split, side, frame_id, position,
			pointcloud_path, image_path, label_lidar_path, label_camera_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (data_root, split, side, frame_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare frame insert: %w", err)
	}
	defer frameStmt.Close()

	insertFrame := func(f dataset.Frame, position sql.NullInt64) error {
		_, err := frameStmt.ExecContext(ctx, ix.Root, ix.Split, string(f.Side), f.ID, position,
			f.PointCloudPath, f.ImagePath, f.LabelPath(labels.ViewLidar), f.LabelPath(labels.ViewCamera))
		if err != nil {
			return fmt.Errorf("insert %s frame %s: %w", f.Side, f.ID, err)
		}
		return nil
	}

	for _, side := range []dataset.Side{dataset.SideInfrastructure, dataset.SideVehicle} {
		for i, f := range ix.Frames(side) {
			if err = insertFrame(f, sql.NullInt64{Int64: int64(i), Valid: true}); err != nil {
				return err
			}
		}
	}
	for i, p := range ix.Pairs() {
		// Pair halves outside the side split are stored without a position.
		for _, f := range []dataset.Frame{p.Infrastructure, p.Vehicle} {
			if err = insertFrame(f, sql.NullInt64{}); err != nil {
				return err
			}
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO pairs (data_root, split, pair_id, position, infrastructure_id, vehicle_id, label_path)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ix.Root, ix.Split, p.ID, i, p.Infrastructure.ID, p.Vehicle.ID, p.LabelPath); err != nil {
			return fmt.Errorf("insert pair %s: %w", p.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save index: %w", err)
	}
	monitoring.Logf("index db %s: saved %s/%s (%d pairs)", s.path, ix.Root, ix.Split, ix.Count(dataset.SideCooperative))
	return nil
}

// LoadIndex rebuilds the index saved for root and split.
func (s *Store) LoadIndex(ctx context.Context, root, split string) (*dataset.Index, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM datasets WHERE data_root = ? AND split = ?", root, split).Scan(&n); err != nil {
		return nil, fmt.Errorf("query dataset: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotIndexed, root, split)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT side, frame_id, position, pointcloud_path, image_path, label_lidar_path, label_camera_path
		FROM frames WHERE data_root = ? AND split = ?
		ORDER BY side, position`, root, split)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	known := map[dataset.Side]map[string]dataset.Frame{}
	ordered := map[dataset.Side][]dataset.Frame{}
	for rows.Next() {
		var (
			f                     dataset.Frame
			side                  string
			position              sql.NullInt64
			lidarPath, cameraPath string
		)
		if err := rows.Scan(&side, &f.ID, &position, &f.PointCloudPath, &f.ImagePath, &lidarPath, &cameraPath); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		f.Side = dataset.Side(side)
		f.LabelPaths = map[labels.View]string{}
		if lidarPath != "" {
			f.LabelPaths[labels.ViewLidar] = lidarPath
		}
		if cameraPath != "" {
			f.LabelPaths[labels.ViewCamera] = cameraPath
		}
		if known[f.Side] == nil {
			known[f.Side] = map[string]dataset.Frame{}
		}
		known[f.Side][f.ID] = f
		if position.Valid {
			ordered[f.Side] = append(ordered[f.Side], f)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frames: %w", err)
	}

	pairRows, err := s.db.QueryContext(ctx, `
		SELECT pair_id, infrastructure_id, vehicle_id, label_path
		FROM pairs WHERE data_root = ? AND split = ?
		ORDER BY position`, root, split)
	if err != nil {
		return nil, fmt.Errorf("query pairs: %w", err)
	}
	defer pairRows.Close()

	var pairs []dataset.Pair
	for pairRows.Next() {
		var p dataset.Pair
		var infID, vehID string
		if err := pairRows.Scan(&p.ID, &infID, &vehID, &p.LabelPath); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		var ok bool
		if p.Infrastructure, ok = known[dataset.SideInfrastructure][infID]; !ok {
			return nil, fmt.Errorf("pair %s: infrastructure frame %s missing from index db", p.ID, infID)
		}
		if p.Vehicle, ok = known[dataset.SideVehicle][vehID]; !ok {
			return nil, fmt.Errorf("pair %s: vehicle frame %s missing from index db", p.ID, vehID)
		}
		pairs = append(pairs, p)
	}
	if err := pairRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pairs: %w", err)
	}

	return dataset.NewIndex(root, split,
		ordered[dataset.SideInfrastructure], ordered[dataset.SideVehicle], pairs), nil
}

// AttachDebugRoutes mounts the tailsql console for this database under
// /debug/tailsql/ on mux.
func (s *Store) AttachDebugRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.db, &tailsql.DBOptions{
		Label: "V2X index DB",
	})
	debug.Handle("tailsql/", "SQL live debugging of the dataset index", tsql.NewMux())
	return nil
}
