package db

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func Make(dbPath string) (*DB, error) {
	// https://github.com/mattn/go-sqlite3#connection-string
	opts := []string{
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_auto_vacuum=incremental",
	}

	db, err := sql.Open("sqlite3", dbPath+"?"+strings.Join(opts, "&"))
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		create table if not exists runs (
			id text primary key,
			repo text not null,
			workflow text not null,
			event_kind text not null,
			ref text not null default '',
			status text not null,

			-- only if failed
			error text not null default '',

			started_at text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			finished_at text
		);

		create table if not exists jobs (
			run_id text not null,
			name text not null,
			status text not null,
			exit_code integer not null default 0,
			error text not null default '',
			failed_step text not null default '',

			started_at text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			finished_at text,

			primary key (run_id, name),
			foreign key (run_id) references runs(id)
		);

		create table if not exists deployments (
			id integer primary key autoincrement,
			environment text not null,
			content_hash text not null,
			artifact text not null,
			url text not null,
			run_id text not null,
			created_at text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),

			unique (environment, content_hash)
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}
