package registry

import (
	"database/sql"
	"fmt"
	"time"
)

// Secret is an encrypted credential blob. The registry only stores
// ciphertext; encryption lives in the secrets package.
type Secret struct {
	Name           string    `json:"name"`
	EncryptedValue []byte    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// SaveSecret inserts or replaces a secret.
func (d *DB) SaveSecret(s *Secret) error {
	_, err := d.db.Exec(`
		INSERT INTO secrets (name, value, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at
	`, s.Name, s.EncryptedValue, s.CreatedAt.Format(time.RFC3339))
	return err
}

// GetSecret retrieves a secret by name. Returns (nil, nil) when absent.
func (d *DB) GetSecret(name string) (*Secret, error) {
	row := d.db.QueryRow(`
		SELECT name, value, created_at FROM secrets WHERE name = ?
	`, name)
	var s Secret
	var created string
	err := row.Scan(&s.Name, &s.EncryptedValue, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.CreatedAt = parseTime(created)
	return &s, nil
}

// ListSecretNames returns the stored secret names, never their values.
func (d *DB) ListSecretNames() ([]string, error) {
	rows, err := d.db.Query(`SELECT name FROM secrets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteSecret removes a secret by name.
func (d *DB) DeleteSecret(name string) error {
	res, err := d.db.Exec(`DELETE FROM secrets WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("secret %q not found", name)
	}
	return nil
}
