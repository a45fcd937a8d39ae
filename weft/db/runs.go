package db

import (
	"fmt"
	"time"

	"weft.sh/weft/core/notifier"
	"weft.sh/weft/core/weft/models"
)

type Run struct {
	ID        string           `json:"id"`
	Repo      string           `json:"repo"`
	Workflow  string           `json:"workflow"`
	EventKind string           `json:"event_kind"`
	Ref       string           `json:"ref"`
	Status    models.RunStatus `json:"status"`

	// only if failed
	Error string `json:"error"`

	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (d *DB) CreateRun(id models.RunId, repo, workflow, eventKind, ref string, n *notifier.Notifier) error {
	_, err := d.Exec(`
		insert into runs (id, repo, workflow, event_kind, ref, status)
		values (?, ?, ?, ?, ?, ?)
	`, string(id), repo, workflow, eventKind, ref, models.RunPending)
	if err != nil {
		return err
	}
	n.NotifyAll()
	return nil
}

func (d *DB) MarkRunRunning(id models.RunId, n *notifier.Notifier) error {
	_, err := d.Exec(`
		update runs
		set status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		where id = ?
	`, models.RunRunning, string(id))
	if err != nil {
		return err
	}
	n.NotifyAll()
	return nil
}

func (d *DB) MarkRunFailed(id models.RunId, errorMsg string, n *notifier.Notifier) error {
	_, err := d.Exec(`
		update runs
		set status = ?,
		    error = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now'),
		    finished_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		where id = ?
	`, models.RunFailed, errorMsg, string(id))
	if err != nil {
		return err
	}
	n.NotifyAll()
	return nil
}

func (d *DB) MarkRunCancelled(id models.RunId, n *notifier.Notifier) error {
	_, err := d.Exec(`
		update runs
		set status = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now'),
		    finished_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		where id = ?
	`, models.RunCancelled, string(id))
	if err != nil {
		return err
	}
	n.NotifyAll()
	return nil
}

func (d *DB) MarkRunSuccess(id models.RunId, n *notifier.Notifier) error {
	_, err := d.Exec(`
		update runs
		set status = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now'),
		    finished_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		where id = ?
	`, models.RunSuccess, string(id))
	if err != nil {
		return err
	}
	n.NotifyAll()
	return nil
}

func (d *DB) GetRun(id models.RunId) (Run, error) {
	var r Run
	var startedAt, updatedAt string
	var finishedAt *string
	err := d.QueryRow(`
		select id, repo, workflow, event_kind, ref, status, error, started_at, updated_at, finished_at
		from runs
		where id = ?
	`, string(id)).Scan(&r.ID, &r.Repo, &r.Workflow, &r.EventKind, &r.Ref, &r.Status, &r.Error, &startedAt, &updatedAt, &finishedAt)
	if err != nil {
		return r, err
	}
	parseTimes(&r, startedAt, updatedAt, finishedAt)
	return r, nil
}

// GetRuns pages through runs in id order, 100 at a time. The empty
// cursor starts from the beginning.
func (d *DB) GetRuns(cursor string) ([]Run, error) {
	whereClause := ""
	args := []any{}
	if cursor != "" {
		whereClause = "where id > ?"
		args = append(args, cursor)
	}

	query := fmt.Sprintf(`
		select id, repo, workflow, event_kind, ref, status, error, started_at, updated_at, finished_at
		from runs
		%s
		order by id asc
		limit 100
	`, whereClause)

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt, updatedAt string
		var finishedAt *string
		if err := rows.Scan(&r.ID, &r.Repo, &r.Workflow, &r.EventKind, &r.Ref, &r.Status, &r.Error, &startedAt, &updatedAt, &finishedAt); err != nil {
			return nil, err
		}
		parseTimes(&r, startedAt, updatedAt, finishedAt)
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

func parseTimes(r *Run, startedAt, updatedAt string, finishedAt *string) {
	if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
		r.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		r.UpdatedAt = t
	}
	if finishedAt != nil {
		if t, err := time.Parse(time.RFC3339, *finishedAt); err == nil {
			r.FinishedAt = &t
		}
	}
}
