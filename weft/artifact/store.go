package artifact

import (
	"context"
	"errors"
	"io"

	"weft.sh/weft/core/weft/models"
)

// Artifacts are ephemeral, run-scoped blobs used to pass build output
// between jobs. Two jobs in the same run referencing the same name see
// the same blob; nothing is visible across runs.
type Store interface {
	Put(ctx context.Context, run models.RunId, name string, blob io.Reader) error
	Get(ctx context.Context, run models.RunId, name string) (io.ReadCloser, error)
	List(ctx context.Context, run models.RunId) ([]string, error)
	// Destroy drops every artifact of a run, called at run completion
	// unless the run is explicitly retained.
	Destroy(ctx context.Context, run models.RunId) error
}

var ErrNotFound = errors.New("artifact not found")

// ensure that we are satisfying the interface
var (
	_ = []Store{
		&FSStore{},
		&S3Store{},
	}
)
