package registry

import (
	"time"
)

// Launch is one row of launch history.
type Launch struct {
	ID         int64     `json:"id"`
	AppName    string    `json:"app_name"`
	Outcome    string    `json:"outcome"` // completed | failed | cancelled
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RecordLaunch appends a launch outcome to the history.
func (d *DB) RecordLaunch(l *Launch) error {
	finished := ""
	if !l.FinishedAt.IsZero() {
		finished = l.FinishedAt.Format(time.RFC3339)
	}
	res, err := d.db.Exec(`
		INSERT INTO launches (app_name, outcome, reason, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?)
	`, l.AppName, l.Outcome, l.Reason, l.StartedAt.Format(time.RFC3339), finished)
	if err != nil {
		return err
	}
	l.ID, _ = res.LastInsertId()
	return nil
}

// ListLaunches returns the most recent launches, newest first.
func (d *DB) ListLaunches(limit int) ([]*Launch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(`
		SELECT id, app_name, outcome, reason, started_at, finished_at
		FROM launches ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var launches []*Launch
	for rows.Next() {
		var l Launch
		var started, finished string
		if err := rows.Scan(&l.ID, &l.AppName, &l.Outcome, &l.Reason, &started, &finished); err != nil {
			return nil, err
		}
		l.StartedAt = parseTime(started)
		if finished != "" {
			l.FinishedAt = parseTime(finished)
		}
		launches = append(launches, &l)
	}
	return launches, rows.Err()
}

// PruneLaunches keeps only the newest keep rows.
func (d *DB) PruneLaunches(keep int) error {
	_, err := d.db.Exec(`
		DELETE FROM launches WHERE id NOT IN (
			SELECT id FROM launches ORDER BY id DESC LIMIT ?
		)
	`, keep)
	return err
}
