package db

import (
	"time"

	"weft.sh/weft/core/notifier"
	"weft.sh/weft/core/weft/models"
)

type Job struct {
	RunID      string           `json:"run_id"`
	Name       string           `json:"name"`
	Status     models.JobStatus `json:"status"`
	ExitCode   int              `json:"exit_code"`
	Error      string           `json:"error"`
	FailedStep string           `json:"failed_step"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (d *DB) JobPending(jid models.JobId, n *notifier.Notifier) error {
	_, err := d.Exec(`
		insert into jobs (run_id, name, status)
		values (?, ?, ?)
	`, string(jid.Run), jid.Name, models.JobPending)
	if err != nil {
		return err
	}
	n.NotifyAll()
	return nil
}

func (d *DB) MarkJobRunning(jid models.JobId, n *notifier.Notifier) error {
	return d.setJobStatus(jid, models.JobRunning, n)
}

func (d *DB) MarkJobSucceeded(jid models.JobId, n *notifier.Notifier) error {
	return d.finishJob(jid, models.JobSucceeded, 0, "", "", n)
}

func (d *DB) MarkJobSkipped(jid models.JobId, n *notifier.Notifier) error {
	return d.finishJob(jid, models.JobSkipped, 0, "", "", n)
}

func (d *DB) MarkJobCancelled(jid models.JobId, n *notifier.Notifier) error {
	return d.finishJob(jid, models.JobCancelled, 0, "", "", n)
}

func (d *DB) MarkJobFailed(jid models.JobId, exitCode int, failedStep, errorMsg string, n *notifier.Notifier) error {
	return d.finishJob(jid, models.JobFailed, exitCode, failedStep, errorMsg, n)
}

func (d *DB) setJobStatus(jid models.JobId, status models.JobStatus, n *notifier.Notifier) error {
	_, err := d.Exec(`
		update jobs
		set status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		where run_id = ? and name = ?
	`, status, string(jid.Run), jid.Name)
	if err != nil {
		return err
	}
	n.NotifyAll()
	return nil
}

func (d *DB) finishJob(jid models.JobId, status models.JobStatus, exitCode int, failedStep, errorMsg string, n *notifier.Notifier) error {
	_, err := d.Exec(`
		update jobs
		set status = ?,
		    exit_code = ?,
		    failed_step = ?,
		    error = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now'),
		    finished_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		where run_id = ? and name = ?
	`, status, exitCode, failedStep, errorMsg, string(jid.Run), jid.Name)
	if err != nil {
		return err
	}
	n.NotifyAll()
	return nil
}

func (d *DB) GetJobs(run models.RunId) ([]Job, error) {
	rows, err := d.Query(`
		select run_id, name, status, exit_code, error, failed_step, started_at, updated_at
		from jobs
		where run_id = ?
		order by name asc
	`, string(run))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var startedAt, updatedAt string
		if err := rows.Scan(&j.RunID, &j.Name, &j.Status, &j.ExitCode, &j.Error, &j.FailedStep, &startedAt, &updatedAt); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
			j.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			j.UpdatedAt = t
		}
		jobs = append(jobs, j)
	}

	return jobs, rows.Err()
}
