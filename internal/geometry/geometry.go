package geometry

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"trafficfeed/internal/blobstore"
	"trafficfeed/internal/model"
)

type Blobs interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Sink writes one FeatureCollection per case and kind, overwriting the latest
// snapshot and adding a cycle-stamped copy.
type Sink struct {
	blobs Blobs
}

func NewSink(blobs Blobs) *Sink {
	return &Sink{blobs: blobs}
}

func Collection(features []*geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Features = append(fc.Features, features...)
	return fc
}

// Write stores fc under both snapshot paths. Both writes are attempted even
// if the first fails.
func (s *Sink) Write(ctx context.Context, caseID string, kind model.Kind, cycle int64, fc *geojson.FeatureCollection) error {
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode %s collection: %w", kind, err)
	}
	latest := s.blobs.Put(ctx, blobstore.LatestKey(caseID, kind), data, blobstore.ContentTypeGeoJSON)
	history := s.blobs.Put(ctx, blobstore.HistoryKey(caseID, cycle, kind), data, blobstore.ContentTypeGeoJSON)
	return errors.Join(latest, history)
}
