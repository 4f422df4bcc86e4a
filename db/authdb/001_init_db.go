package authdb

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001, down001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	stmts := []string{
		`CREATE TABLE users (
			username TEXT PRIMARY KEY NOT NULL COLLATE NOCASE,
			uid      TEXT NOT NULL DEFAULT '',
			gid      TEXT NOT NULL DEFAULT ''
		) STRICT`,
		`CREATE TABLE groups (
			groupname TEXT PRIMARY KEY NOT NULL COLLATE NOCASE,
			gid       TEXT NOT NULL DEFAULT ''
		) STRICT`,
		`CREATE TABLE group_members (
			groupname TEXT NOT NULL COLLATE NOCASE,
			username  TEXT NOT NULL COLLATE NOCASE,
			PRIMARY KEY (groupname, username)
		) STRICT`,
		`CREATE TABLE md5passwd (
			username  TEXT NOT NULL COLLATE NOCASE,
			groupname TEXT NOT NULL DEFAULT '' COLLATE NOCASE,
			hash      TEXT NOT NULL,
			PRIMARY KEY (username, groupname)
		) STRICT`,
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func down001(ctx context.Context, tx *sqlx.Tx) error {
	for _, t := range []string{"md5passwd", "group_members", "groups", "users"} {
		if _, err := tx.ExecContext(ctx, `DROP TABLE `+t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return nil
}
