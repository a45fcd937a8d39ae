package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"weft.sh/weft/core/weft/config"
	"weft.sh/weft/core/weft/models"
)

// S3Store keeps artifacts in an s3-compatible bucket, one object per
// artifact under a run-id prefix.
type S3Store struct {
	client *minio.Client
	bucket string
	region string

	initOnce sync.Once
	initErr  error
}

func NewS3Store(cfg config.S3Config) (*S3Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 artifact store requires an endpoint")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 artifact store requires credentials")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if !exists {
			s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{
				Region: s.region,
			})
		}
	})
	return s.initErr
}

func objectKey(run models.RunId, name string) string {
	return path.Join(string(run), name)
}

func (s *S3Store) Put(ctx context.Context, run models.RunId, name string, blob io.Reader) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, s.bucket, objectKey(run, name), blob, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

func (s *S3Store) Get(ctx context.Context, run models.RunId, name string) (io.ReadCloser, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(run, name), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}

	// GetObject is lazy, a missing key only surfaces on first read
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s in run %s", ErrNotFound, name, run)
		}
		return nil, err
	}

	return obj, nil
}

func (s *S3Store) List(ctx context.Context, run models.RunId) ([]string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	prefix := string(run) + "/"
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		names = append(names, strings.TrimPrefix(obj.Key, prefix))
	}
	return names, nil
}

func (s *S3Store) Destroy(ctx context.Context, run models.RunId) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	objects := make(chan minio.ObjectInfo)
	go func() {
		defer close(objects)
		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
			Prefix:    string(run) + "/",
			Recursive: true,
		}) {
			if obj.Err == nil {
				objects <- obj
			}
		}
	}()

	for err := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if err.Err != nil {
			return err.Err
		}
	}
	return nil
}
