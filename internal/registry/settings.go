package registry

import "database/sql"

// GetSetting returns the value for key, or "" when unset.
func (d *DB) GetSetting(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetSetting stores key=value, replacing any previous value.
func (d *DB) SetSetting(key, value string) error {
	_, err := d.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// DeleteSetting removes a key. Deleting an absent key is not an error.
func (d *DB) DeleteSetting(key string) error {
	_, err := d.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	return err
}
