package astprovider

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// DiskCache persists Taint Core reports across scan invocations, keyed by
// (file path, mtime, rule id, line): a second scan of an unchanged file
// skips AST resolution entirely. This is the on-disk counterpart to the
// in-memory LRU the teacher's pkg/parser.Service already keeps for parse
// trees themselves (trees are not serializable across process runs, so
// what survives a restart is the resolved verdict, not the tree).
type DiskCache struct {
	db *sql.DB
}

// OpenDiskCache opens (creating if needed) a SQLite-backed report cache at
// path.
func OpenDiskCache(path string) (*DiskCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open parse cache %s: %w", path, err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS reports (
	file_path   TEXT NOT NULL,
	mtime       INTEGER NOT NULL,
	rule_id     TEXT NOT NULL,
	line        INTEGER NOT NULL,
	seq         INTEGER NOT NULL,
	code        INTEGER NOT NULL,
	new_sink    TEXT NOT NULL,
	param_index INTEGER NOT NULL,
	chain_json  TEXT NOT NULL,
	PRIMARY KEY (file_path, rule_id, line, seq)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init parse cache schema: %w", err)
	}
	return &DiskCache{db: db}, nil
}

// Close releases the underlying database handle.
func (d *DiskCache) Close() error {
	if d == nil {
		return nil
	}
	return d.db.Close()
}

// Get returns the cached reports for (file, ruleID, line) if the file's
// mtime matches what was cached, in the order they were stored.
func (d *DiskCache) Get(file string, ruleID string, line int) ([]Report, bool) {
	if d == nil {
		return nil, false
	}
	mtime, err := fileMtime(file)
	if err != nil {
		return nil, false
	}

	rows, err := d.db.Query(
		`SELECT code, new_sink, param_index, chain_json FROM reports
		 WHERE file_path = ? AND rule_id = ? AND line = ? AND mtime = ? ORDER BY seq`,
		file, ruleID, line, mtime,
	)
	if err != nil {
		return nil, false
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var rep Report
		var chainJSON string
		if err := rows.Scan(&rep.Code, &rep.NewSink, &rep.ParamIndex, &chainJSON); err != nil {
			return nil, false
		}
		if err := json.Unmarshal([]byte(chainJSON), &rep.Chain); err != nil {
			return nil, false
		}
		out = append(out, rep)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// Put stores reports for (file, ruleID, line) under the file's current
// mtime, replacing any stale entry for a prior mtime.
func (d *DiskCache) Put(file string, ruleID string, line int, reports []Report) {
	if d == nil || len(reports) == 0 {
		return
	}
	mtime, err := fileMtime(file)
	if err != nil {
		return
	}

	tx, err := d.db.Begin()
	if err != nil {
		return
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM reports WHERE file_path = ? AND rule_id = ? AND line = ?`, file, ruleID, line); err != nil {
		return
	}
	for seq, rep := range reports {
		chainJSON, err := json.Marshal(rep.Chain)
		if err != nil {
			return
		}
		if _, err := tx.Exec(
			`INSERT INTO reports(file_path, mtime, rule_id, line, seq, code, new_sink, param_index, chain_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			file, mtime, ruleID, line, seq, rep.Code, rep.NewSink, rep.ParamIndex, string(chainJSON),
		); err != nil {
			return
		}
	}
	tx.Commit()
}

func fileMtime(file string) (int64, error) {
	info, err := os.Stat(file)
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixNano(), nil
}
