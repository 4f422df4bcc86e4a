// Package authdb implements a sqlite3-backed alternative to the OS
// passwd/group database and the flat passwd.md5 file, for deployments
// without a usable platform user database (containers, tests). It
// implements both identity.Resolver and identity.MD5Store.
package authdb

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"

	"github.com/opencups/authd/pkg/authcore/identity"
)

// DB stores users, groups, and MD5 password entries in a sqlite3 database.
type DB struct {
	x *sqlx.DB
}

var _ identity.Resolver = (*DB)(nil)
var _ identity.MD5Store = (*DB)(nil)

// Open opens a DB from the provided sqlite3 filename.
func Open(name string) (*DB, error) {
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_cache_size":   {"-32000"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}
	return &DB{x}, nil
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return db.x.Close()
}

// Lookup implements identity.Resolver.
func (db *DB) Lookup(username string) (identity.User, bool, error) {
	var row struct {
		Username string `db:"username"`
		UID      string `db:"uid"`
		GID      string `db:"gid"`
	}
	if err := db.x.Get(&row, `SELECT username, uid, gid FROM users WHERE username = ?`, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.User{}, false, nil
		}
		return identity.User{}, false, fmt.Errorf("authdb: lookup user %q: %w", username, err)
	}
	return identity.User{Username: row.Username, UID: row.UID, GID: row.GID}, true, nil
}

// InGroup implements identity.Resolver: a user is in a group either as its
// primary gid or via the group_members table.
func (db *DB) InGroup(username, groupname string) (bool, error) {
	u, ok, err := db.Lookup(username)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	var gid string
	if err := db.x.Get(&gid, `SELECT gid FROM groups WHERE groupname = ?`, groupname); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("authdb: lookup group %q: %w", groupname, err)
		}
		return false, nil
	}
	if gid != "" && gid == u.GID {
		return true, nil
	}

	var n int
	if err := db.x.Get(&n, `SELECT COUNT(*) FROM group_members WHERE groupname = ? AND username = ?`, groupname, username); err != nil {
		return false, fmt.Errorf("authdb: lookup group membership: %w", err)
	}
	return n > 0, nil
}

// GetMD5 implements identity.MD5Store.
func (db *DB) GetMD5(user, group string) (string, bool) {
	var hash string
	var err error
	if group != "" {
		err = db.x.Get(&hash, `SELECT hash FROM md5passwd WHERE username = ? AND groupname = ?`, user, group)
	} else {
		err = db.x.Get(&hash, `SELECT hash FROM md5passwd WHERE username = ? ORDER BY groupname LIMIT 1`, user)
	}
	if err != nil {
		return "", false
	}
	return hash, true
}

// PutUser inserts or replaces a user record.
func (db *DB) PutUser(username, uid, gid string) error {
	_, err := db.x.Exec(`INSERT OR REPLACE INTO users (username, uid, gid) VALUES (?, ?, ?)`, username, uid, gid)
	return err
}

// PutGroup inserts or replaces a group record and its member list.
func (db *DB) PutGroup(groupname, gid string, members ...string) error {
	tx, err := db.x.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO groups (groupname, gid) VALUES (?, ?)`, groupname, gid); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM group_members WHERE groupname = ?`, groupname); err != nil {
		return err
	}
	for _, m := range members {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO group_members (groupname, username) VALUES (?, ?)`, groupname, m); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PutMD5 inserts or replaces an MD5 password-file entry, the same
// information a "user:group:md5hex" line in passwd.md5 carries.
func (db *DB) PutMD5(user, group, hash string) error {
	_, err := db.x.Exec(`INSERT OR REPLACE INTO md5passwd (username, groupname, hash) VALUES (?, ?, ?)`, user, group, hash)
	return err
}
