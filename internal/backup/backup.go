// Package backup snapshots the SQLite database into the artifact store.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dukerupert/weekplate/internal/artifact"
)

// KeyPrefix is where snapshots live in the artifact store.
const KeyPrefix = "backups/"

// Snapshot returns a consistent copy of the database file.
func Snapshot(ctx context.Context, db *sql.DB) ([]byte, error) {
	dir, err := os.MkdirTemp("", "weekplate-backup-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.db")
	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return nil, fmt.Errorf("vacuum into: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// Key names a snapshot taken at t. Encrypted snapshots get an .enc suffix.
func Key(t time.Time, encrypted bool) string {
	key := KeyPrefix + "weekplate-" + t.UTC().Format("20060102T150405Z") + ".db"
	if encrypted {
		key += ".enc"
	}
	return key
}

// Run snapshots db and writes it to store, encrypting when passphrase is set.
// It returns the key written.
func Run(ctx context.Context, db *sql.DB, store artifact.Store, passphrase string, now time.Time) (string, error) {
	data, err := Snapshot(ctx, db)
	if err != nil {
		return "", err
	}
	if passphrase != "" {
		if data, err = Encrypt(data, passphrase); err != nil {
			return "", err
		}
	}

	key := Key(now, passphrase != "")
	if err := store.Write(ctx, key, data); err != nil {
		return "", fmt.Errorf("store backup: %w", err)
	}
	return key, nil
}

// Restore fetches the snapshot at key and writes the database to dstPath.
// dstPath must not exist.
func Restore(ctx context.Context, store artifact.Store, key, passphrase, dstPath string) error {
	data, err := store.Read(ctx, key)
	if err != nil {
		return fmt.Errorf("read backup %s: %w", key, err)
	}
	if strings.HasSuffix(key, ".enc") {
		if passphrase == "" {
			return fmt.Errorf("backup %s is encrypted: passphrase required", key)
		}
		if data, err = Decrypt(data, passphrase); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dstPath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", dstPath, err)
	}
	return f.Close()
}
