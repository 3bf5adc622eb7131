package registry

import (
	"database/sql"
	"time"
)

// App is one guest application cached from the last enumeration. The cache
// keeps the UI populated while the container is stopped or booting; the
// guest enumeration remains the source of truth whenever it is reachable.
type App struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Source     string    `json:"source,omitempty"`
	Icon       string    `json:"icon,omitempty"`
	UsageCount int       `json:"usage_count"`
	LastSeen   time.Time `json:"last_seen"`
}

// SaveApp inserts or refreshes a cached app. The usage counter survives
// refreshes; only identity fields are overwritten.
func (d *DB) SaveApp(app *App) error {
	_, err := d.db.Exec(`
		INSERT INTO apps (path, name, source, icon, usage_count, last_seen)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			source = excluded.source,
			icon = excluded.icon,
			last_seen = excluded.last_seen
	`, app.Path, app.Name, app.Source, app.Icon, app.UsageCount)
	return err
}

// ReplaceApps refreshes the cache from a full enumeration: apps no longer
// present in the guest are dropped, present ones keep their usage counters.
func (d *DB) ReplaceApps(apps []*App) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Rebuild: clear, then insert. Usage counters come back from the caller
	// merging the previous cache when it wants them preserved.
	if _, err := tx.Exec(`DELETE FROM apps`); err != nil {
		return err
	}
	for _, app := range apps {
		if _, err := tx.Exec(`
			INSERT INTO apps (path, name, source, icon, usage_count, last_seen)
			VALUES (?, ?, ?, ?, ?, datetime('now'))
		`, app.Path, app.Name, app.Source, app.Icon, app.UsageCount); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetApp retrieves a cached app by path.
func (d *DB) GetApp(path string) (*App, error) {
	row := d.db.QueryRow(`
		SELECT path, name, source, icon, usage_count, last_seen
		FROM apps WHERE path = ?
	`, path)
	return scanApp(row)
}

// ListApps returns all cached apps, most used first.
func (d *DB) ListApps() ([]*App, error) {
	rows, err := d.db.Query(`
		SELECT path, name, source, icon, usage_count, last_seen
		FROM apps ORDER BY usage_count DESC, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*App
	for rows.Next() {
		app, err := scanAppRow(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// BumpUsage increments the usage counter for an app. Missing paths are a
// no-op: launching by bare name may not match a cached path.
func (d *DB) BumpUsage(path string) error {
	_, err := d.db.Exec(`
		UPDATE apps SET usage_count = usage_count + 1 WHERE path = ?
	`, path)
	return err
}

func scanApp(row *sql.Row) (*App, error) {
	var app App
	var lastSeen string
	err := row.Scan(&app.Path, &app.Name, &app.Source, &app.Icon, &app.UsageCount, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	app.LastSeen = parseTime(lastSeen)
	return &app, nil
}

func scanAppRow(rows *sql.Rows) (*App, error) {
	var app App
	var lastSeen string
	if err := rows.Scan(&app.Path, &app.Name, &app.Source, &app.Icon, &app.UsageCount, &lastSeen); err != nil {
		return nil, err
	}
	app.LastSeen = parseTime(lastSeen)
	return &app, nil
}

// parseTime accepts both RFC 3339 and SQLite's datetime('now') format.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}
