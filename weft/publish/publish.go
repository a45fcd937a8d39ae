// Package publish pushes built artifacts to deploy environments. A
// deployment is addressed by the content hash of its artifact, so
// re-publishing identical content is a no-op that resolves to the
// prior deployment.
package publish

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"weft.sh/weft/core/log"
	"weft.sh/weft/core/weft/artifact"
	"weft.sh/weft/core/weft/config"
	"weft.sh/weft/core/weft/db"
	"weft.sh/weft/core/weft/models"
	"weft.sh/weft/core/weft/secrets"
)

// deployments require a token in the repo's environment scope; its
// absence is a configuration problem, not a transient one
var ErrUnauthorized = errors.New("deployment not authorized")

const deployTokenKey = "DEPLOY_TOKEN"

type uploader interface {
	upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

type s3Uploader struct {
	client *minio.Client
	bucket string
}

func (u *s3Uploader) upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := u.client.PutObject(ctx, u.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

type Publisher struct {
	db      *db.DB
	store   artifact.Store
	secrets secrets.Manager
	up      uploader
	domain  string
	l       *slog.Logger
}

func NewPublisher(ctx context.Context, d *db.DB, store artifact.Store, sm secrets.Manager, cfg config.Publish) (*Publisher, error) {
	client, err := minio.New(cfg.S3.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3.AccessKey, cfg.S3.SecretKey, ""),
		Secure: cfg.S3.UseSSL,
		Region: cfg.S3.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating publish client: %w", err)
	}

	return &Publisher{
		db:      d,
		store:   store,
		secrets: sm,
		up:      &s3Uploader{client: client, bucket: cfg.S3.Bucket},
		domain:  cfg.Domain,
		l:       log.FromContext(ctx).With("component", "publish"),
	}, nil
}

type Request struct {
	Run         models.RunId
	Scope       secrets.Scope
	Environment string
	Artifact    string
}

// Publish deploys the named artifact of a run to an environment. The
// artifact is a gzipped tarball of the site tree. Identical content
// already live in the environment short-circuits to the existing
// deployment without touching storage.
func (p *Publisher) Publish(ctx context.Context, req Request) (db.Deployment, error) {
	var dep db.Deployment

	if err := p.authorize(ctx, req); err != nil {
		return dep, err
	}

	blob, err := p.store.Get(ctx, req.Run, req.Artifact)
	if err != nil {
		return dep, fmt.Errorf("fetching artifact %q: %w", req.Artifact, err)
	}
	defer blob.Close()

	spool, hash, err := spoolAndHash(blob)
	if err != nil {
		return dep, err
	}
	defer os.Remove(spool.Name())
	defer spool.Close()

	existing, found, err := p.db.LookupDeployment(req.Environment, hash)
	if err != nil {
		return dep, err
	}
	if found {
		p.l.Info("content already deployed", "environment", req.Environment, "hash", hash, "deployment", existing.ID)
		return existing, nil
	}

	if err := p.uploadTree(ctx, req.Environment, spool); err != nil {
		return dep, fmt.Errorf("uploading to %q: %w", req.Environment, err)
	}

	dep = db.Deployment{
		Environment: req.Environment,
		ContentHash: hash,
		Artifact:    req.Artifact,
		URL:         fmt.Sprintf("https://%s.%s/", req.Environment, p.domain),
		RunID:       string(req.Run),
	}

	dep, err = p.db.RecordDeployment(dep)
	if err != nil {
		return dep, err
	}

	p.l.Info("deployed", "environment", req.Environment, "hash", hash, "url", dep.URL)
	return dep, nil
}

func (p *Publisher) authorize(ctx context.Context, req Request) error {
	scope := secrets.Scope(string(req.Scope) + "/" + req.Environment)
	unlocked, err := p.secrets.GetSecretsUnlocked(ctx, scope)
	if err != nil {
		return err
	}

	for _, s := range unlocked {
		if s.Key == deployTokenKey && s.Value != "" {
			return nil
		}
	}

	return fmt.Errorf("%w: no %s for %s", ErrUnauthorized, deployTokenKey, scope)
}

// spoolAndHash copies the blob to a temp file, returning it rewound
// along with the hex sha256 of its contents.
func spoolAndHash(blob io.Reader) (*os.File, string, error) {
	spool, err := os.CreateTemp("", "weft-publish-*")
	if err != nil {
		return nil, "", err
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(spool, h), blob); err != nil {
		spool.Close()
		os.Remove(spool.Name())
		return nil, "", err
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		spool.Close()
		os.Remove(spool.Name())
		return nil, "", err
	}

	return spool, hex.EncodeToString(h.Sum(nil)), nil
}

// uploadTree unpacks the site tarball and uploads each file. The tar
// stream is sequential, so file contents are buffered and the uploads
// themselves fan out.
func (p *Publisher) uploadTree(ctx context.Context, environment string, blob io.Reader) error {
	gz, err := gzip.NewReader(blob)
	if err != nil {
		return fmt.Errorf("artifact is not a gzipped tarball: %w", err)
	}
	defer gz.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Join(err, g.Wait())
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Clean(hdr.Name)
		if name == ".." || strings.HasPrefix(name, "../") || path.IsAbs(name) {
			continue
		}

		contents, err := io.ReadAll(tr)
		if err != nil {
			return errors.Join(err, g.Wait())
		}

		contentType := mime.TypeByExtension(path.Ext(name))
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		key := path.Join(environment, name)
		g.Go(func() error {
			return p.up.upload(ctx, key, bytes.NewReader(contents), int64(len(contents)), contentType)
		})
	}

	return g.Wait()
}
