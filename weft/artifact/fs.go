// a local filesystem backed artifact store
package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"

	"weft.sh/weft/core/weft/models"
)

type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

// blobPath keeps artifact names from escaping the run's directory.
func (s *FSStore) blobPath(run models.RunId, name string) (string, error) {
	runDir, err := securejoin.SecureJoin(s.root, string(run))
	if err != nil {
		return "", err
	}
	return securejoin.SecureJoin(runDir, name)
}

func (s *FSStore) Put(ctx context.Context, run models.RunId, name string, blob io.Reader) error {
	path, err := s.blobPath(run, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, blob); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

func (s *FSStore) Get(ctx context.Context, run models.RunId, name string) (io.ReadCloser, error) {
	path, err := s.blobPath(run, name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s in run %s", ErrNotFound, name, run)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *FSStore) List(ctx context.Context, run models.RunId) ([]string, error) {
	dir, err := securejoin.SecureJoin(s.root, string(run))
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (s *FSStore) Destroy(ctx context.Context, run models.RunId) error {
	dir, err := securejoin.SecureJoin(s.root, string(run))
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}
