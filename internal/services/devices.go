package services

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DeviceLinks persists the userId → WhatsApp device JID mapping in the
// same SQLite file that holds the device credentials, so a restarted
// gateway can reload each user's session on demand.
type DeviceLinks struct {
	db *sql.DB
}

// NewDeviceLinks opens (and if needed creates) the link table
func NewDeviceLinks(dbPath string) (*DeviceLinks, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open device link store: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS gateway_device_links (
		user_id TEXT PRIMARY KEY,
		jid     TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create device link table: %w", err)
	}

	return &DeviceLinks{db: db}, nil
}

// Get returns the stored device JID for a user, or "" when none exists
func (d *DeviceLinks) Get(userID string) (string, error) {
	var jid string
	err := d.db.QueryRow("SELECT jid FROM gateway_device_links WHERE user_id = ?", userID).Scan(&jid)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return jid, nil
}

// Set records which device a user's session is bound to
func (d *DeviceLinks) Set(userID, jid string) error {
	_, err := d.db.Exec(
		"INSERT INTO gateway_device_links (user_id, jid) VALUES (?, ?) ON CONFLICT(user_id) DO UPDATE SET jid = excluded.jid",
		userID, jid)
	return err
}

// Delete removes a user's device link (used on logout)
func (d *DeviceLinks) Delete(userID string) error {
	_, err := d.db.Exec("DELETE FROM gateway_device_links WHERE user_id = ?", userID)
	return err
}

// Close releases the underlying database handle
func (d *DeviceLinks) Close() error {
	return d.db.Close()
}
