package db

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Make(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Make() error = %v", err)
	}
	return d
}

func TestRecordDeploymentIdempotent(t *testing.T) {
	d := testDB(t)

	first, err := d.RecordDeployment(Deployment{
		Environment: "staging",
		ContentHash: "abc123",
		Artifact:    "site",
		URL:         "https://staging.weft.page/",
		RunID:       "run-1",
	})
	if err != nil {
		t.Fatalf("RecordDeployment() error = %v", err)
	}
	if first.ID == 0 {
		t.Fatal("RecordDeployment() assigned no id")
	}

	// identical content from a later run resolves to the original row
	second, err := d.RecordDeployment(Deployment{
		Environment: "staging",
		ContentHash: "abc123",
		Artifact:    "site",
		URL:         "https://staging.weft.page/",
		RunID:       "run-2",
	})
	if err != nil {
		t.Fatalf("RecordDeployment() repeat error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("repeat deployment id = %d, want %d", second.ID, first.ID)
	}
	if second.RunID != "run-1" {
		t.Errorf("repeat deployment run = %s, want run-1", second.RunID)
	}
}

func TestRecordDeploymentDistinctContent(t *testing.T) {
	d := testDB(t)

	first, err := d.RecordDeployment(Deployment{
		Environment: "staging",
		ContentHash: "aaa",
		Artifact:    "site",
		URL:         "https://staging.weft.page/",
		RunID:       "run-1",
	})
	if err != nil {
		t.Fatalf("RecordDeployment() error = %v", err)
	}

	// changed content in the same environment is a new deployment
	changed, err := d.RecordDeployment(Deployment{
		Environment: "staging",
		ContentHash: "bbb",
		Artifact:    "site",
		URL:         "https://staging.weft.page/",
		RunID:       "run-2",
	})
	if err != nil {
		t.Fatalf("RecordDeployment() changed content error = %v", err)
	}
	if changed.ID == first.ID {
		t.Error("changed content reused the original deployment row")
	}

	// same content in another environment is independent too
	other, err := d.RecordDeployment(Deployment{
		Environment: "production",
		ContentHash: "aaa",
		Artifact:    "site",
		URL:         "https://production.weft.page/",
		RunID:       "run-3",
	})
	if err != nil {
		t.Fatalf("RecordDeployment() other environment error = %v", err)
	}
	if other.ID == first.ID {
		t.Error("other environment reused the original deployment row")
	}
}
