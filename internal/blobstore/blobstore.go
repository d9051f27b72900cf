package blobstore

import (
	"context"
	"fmt"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"trafficfeed/internal/config"
	"trafficfeed/internal/model"
)

const (
	ContentTypeGeoJSON = "application/geo+json"
	ContentTypeText    = "text/plain; charset=utf-8"

	errorArtifactDir = "carto_errors"
)

type Store struct {
	bucket *blob.Bucket
}

// Open resolves a bucket URL such as gs://bucket, s3://bucket, file:///dir or mem://.
func Open(ctx context.Context, cfg config.BlobConfig) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", cfg.URL, err)
	}
	if prefix := strings.Trim(cfg.Prefix, "/"); prefix != "" {
		bucket = blob.PrefixedBucket(bucket, prefix+"/")
	}
	return &Store{bucket: bucket}, nil
}

func New(bucket *blob.Bucket) *Store {
	return &Store{bucket: bucket}
}

func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	opts := &blob.WriterOptions{ContentType: contentType}
	if err := s.bucket.WriteAll(ctx, key, data, opts); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	return s.bucket.ReadAll(ctx, key)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

func (s *Store) Close() error {
	return s.bucket.Close()
}

func LatestKey(caseID string, kind model.Kind) string {
	return fmt.Sprintf("%s/%s-%s.geojson", caseID, caseID, kind)
}

func HistoryKey(caseID string, cycle int64, kind model.Kind) string {
	return fmt.Sprintf("%s/%s-%d-%s.geojson", caseID, caseID, cycle, kind)
}

func ErrorArtifactKey(caseID string, cycle int64, kind model.Kind) string {
	return fmt.Sprintf("%s/%s-%d-%s.txt", errorArtifactDir, caseID, cycle, kind)
}
