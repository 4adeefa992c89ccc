// Package logstore persists per-feature snapshots of layer output.
package logstore

import (
	"context"

	"github.com/paulmach/orb/geojson"
)

// Item is one persisted feature snapshot, keyed by (Layer, ID)
type Item struct {
	ID         string            `json:"id"`
	Layer      int64             `json:"layer"`
	Type       string            `json:"type"`
	Properties map[string]any    `json:"properties"`
	Geometry   *geojson.Geometry `json:"geometry"`
}

// ItemFromFeature snapshots a styled feature for layer. uid is the CoT uid of
// the feature and becomes the item id.
func ItemFromFeature(layer int64, uid string, f *geojson.Feature) Item {
	props := make(map[string]any, len(f.Properties))
	for k, v := range f.Properties {
		props[k] = v
	}
	var geom *geojson.Geometry
	if f.Geometry != nil {
		geom = geojson.NewGeometry(f.Geometry)
	}
	return Item{
		ID:         uid,
		Layer:      layer,
		Type:       f.Type,
		Properties: props,
		Geometry:   geom,
	}
}

// Store is the durable log collaborator. Put writes a batch; an error means
// none of the batch may be assumed persisted.
type Store interface {
	Put(ctx context.Context, items []Item) error
}
