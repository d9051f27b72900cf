package blobstore

import (
	"context"
	"testing"

	"gocloud.dev/blob/memblob"

	"trafficfeed/internal/config"
	"trafficfeed/internal/model"
)

func TestKeys(t *testing.T) {
	if got := LatestKey("abc", model.KindAlerts); got != "abc/abc-alerts.geojson" {
		t.Fatalf("latest: %s", got)
	}
	if got := HistoryKey("abc", 1700000000, model.KindJams); got != "abc/abc-1700000000-jams.geojson" {
		t.Fatalf("history: %s", got)
	}
	if got := ErrorArtifactKey("abc", 1700000000, model.KindIrregularities); got != "carto_errors/abc-1700000000-irregularities.txt" {
		t.Fatalf("artifact: %s", got)
	}
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := New(memblob.OpenBucket(nil))
	defer s.Close()
	if err := s.Put(ctx, "a/b.txt", []byte("hello"), ContentTypeText); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "a/b.txt")
	if err != nil || string(got) != "hello" {
		t.Fatalf("get: %q %v", got, err)
	}
}

func TestOpenWithPrefix(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.BlobConfig{URL: "mem://", Prefix: "/traffic/"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if err := s.Put(ctx, "k", []byte("v"), ContentTypeText); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err := s.Exists(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("exists: %v %v", ok, err)
	}
}
