// Package indexdb keeps a queryable sqlite index of enforced decisions.
// Writes go through a single background goroutine so the occurrence hot
// path never touches the database. When the indexer falls behind,
// entries are dropped; the banlog JSONL files remain the source of
// truth.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"itemward.dev/internal/ban/action"
	"itemward.dev/internal/ban/engine"
)

type Index struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type req struct {
	rec   engine.Record
	flush chan struct{}
}

func Open(path string) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	idx := &Index{
		db: db,
		ch: make(chan req, 8192),
	}
	idx.wg.Add(1)
	go func() {
		defer idx.wg.Done()
		idx.loop()
	}()
	return idx, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-style workload; NORMAL is enough for a
	// secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			player_id TEXT,
			player TEXT,
			world TEXT NOT NULL,
			item TEXT NOT NULL,
			custom TEXT,
			action TEXT NOT NULL,
			source TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_player_ts ON decisions(player_id, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_world_item ON decisions(world, item);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

func (x *Index) Close() error {
	var err error
	x.once.Do(func() {
		x.closed.Store(true)
		close(x.ch)
		x.wg.Wait()
		err = x.db.Close()
	})
	return err
}

// Record enqueues a decision for indexing. Non-blocking.
func (x *Index) Record(rec engine.Record) {
	if x == nil || x.closed.Load() {
		return
	}
	select {
	case x.ch <- req{rec: rec}:
	default:
	}
}

func (x *Index) loop() {
	ctx := context.Background()
	insert, err := x.db.Prepare(`INSERT INTO decisions(ts,player_id,player,world,item,custom,action,source) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		for range x.ch {
		}
		return
	}
	defer insert.Close()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range x.ch {
		if r.flush != nil {
			commit()
			close(r.flush)
			continue
		}
		rec := r.rec
		if tx == nil {
			txx, err := x.db.BeginTx(ctx, nil)
			if err != nil {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			tx = txx
		}
		if _, err := tx.Stmt(insert).Exec(
			rec.Time.UTC().Format(time.RFC3339Nano),
			rec.PlayerID,
			rec.Player,
			rec.World,
			rec.ItemType,
			rec.Custom,
			string(rec.Action),
			rec.Source,
		); err != nil {
			_ = tx.Rollback()
			tx = nil
			opCount = 0
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	commit()
}

// Flush commits anything buffered, for shutdown paths and tests that
// query right after writing.
func (x *Index) Flush() {
	if x == nil || x.closed.Load() {
		return
	}
	done := make(chan struct{})
	x.ch <- req{flush: done}
	<-done
}

// RecentForPlayer lists the newest decisions recorded for a player.
func (x *Index) RecentForPlayer(playerID string, limit int) ([]engine.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := x.db.Query(
		`SELECT ts,player_id,player,world,item,custom,action,source
		 FROM decisions WHERE player_id = ? ORDER BY id DESC LIMIT ?`,
		playerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// CountByRule aggregates hits per "item.action" within a world.
func (x *Index) CountByRule(world string) (map[string]int, error) {
	rows, err := x.db.Query(
		`SELECT item || '.' || action, COUNT(*) FROM decisions WHERE world = ? GROUP BY item, action`,
		world,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

func scanRecords(rows *sql.Rows) ([]engine.Record, error) {
	var out []engine.Record
	for rows.Next() {
		var rec engine.Record
		var ts, act string
		if err := rows.Scan(&ts, &rec.PlayerID, &rec.Player, &rec.World, &rec.ItemType, &rec.Custom, &act, &rec.Source); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Time = t
		}
		rec.Action = action.Action(act)
		out = append(out, rec)
	}
	return out, rows.Err()
}
