package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Deployment records one publish of an artifact to an environment.
// (environment, content_hash) is unique: re-publishing identical content
// finds the existing row instead of inserting.
type Deployment struct {
	ID          int64     `json:"id"`
	Environment string    `json:"environment"`
	ContentHash string    `json:"content_hash"`
	Artifact    string    `json:"artifact"`
	URL         string    `json:"url"`
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func (d *DB) RecordDeployment(dep Deployment) (Deployment, error) {
	res, err := d.Exec(`
		insert into deployments (environment, content_hash, artifact, url, run_id)
		values (?, ?, ?, ?, ?)
		on conflict (environment, content_hash) do nothing
	`, dep.Environment, dep.ContentHash, dep.Artifact, dep.URL, dep.RunID)
	if err != nil {
		return dep, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return dep, err
	}
	if affected == 0 {
		// a concurrent publish of identical content won the insert,
		// resolve to its row
		existing, found, err := d.LookupDeployment(dep.Environment, dep.ContentHash)
		if err != nil {
			return dep, err
		}
		if !found {
			return dep, fmt.Errorf("deployment %s/%s vanished after conflict", dep.Environment, dep.ContentHash)
		}
		return existing, nil
	}

	dep.ID, err = res.LastInsertId()
	if err != nil {
		return dep, err
	}
	dep.CreatedAt = time.Now().UTC()
	return dep, nil
}

// LookupDeployment returns the prior deployment of identical content to
// an environment, or found=false.
func (d *DB) LookupDeployment(environment, contentHash string) (Deployment, bool, error) {
	var dep Deployment
	var createdAt string
	err := d.QueryRow(`
		select id, environment, content_hash, artifact, url, run_id, created_at
		from deployments
		where environment = ? and content_hash = ?
	`, environment, contentHash).Scan(&dep.ID, &dep.Environment, &dep.ContentHash, &dep.Artifact, &dep.URL, &dep.RunID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return dep, false, nil
	}
	if err != nil {
		return dep, false, err
	}

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		dep.CreatedAt = t
	}
	return dep, true, nil
}
