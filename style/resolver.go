package style

import (
	"encoding/json"
	stderrors "errors"

	"github.com/blues/jsonata-go"
	"github.com/paulmach/orb/geojson"

	"github.com/c360/takstreams/errors"
)

// Config is the per-layer input to Apply
type Config struct {
	// Stale in seconds. Zero leaves the feature's stale untouched.
	Stale   int64
	Enabled bool
	Styles  *Compiled
}

// Result is the styled feature. Drop is reserved for style-driven deletion
// and is currently never set.
type Result struct {
	Feature *geojson.Feature
	Drop    bool
}

// Apply injects the layer stale value and, when styles are enabled, merges
// every applicable override into the feature properties. The feature is
// modified in place and returned.
//
// Overrides apply in increasing precedence: root, root geometry block, then
// each matching query's root and geometry block in order, recursing into the
// query's own queries. Later writes win.
func Apply(f *geojson.Feature, cfg Config) (Result, error) {
	if f.Properties == nil {
		f.Properties = geojson.Properties{}
	}

	if cfg.Stale > 0 {
		if _, ok := f.Properties["stale"]; !ok {
			f.Properties["stale"] = cfg.Stale * 1000
		}
	}

	if !cfg.Enabled || cfg.Styles == nil {
		return Result{Feature: f}, nil
	}

	r := &resolution{
		feature: f,
		meta:    metadata(f),
		geom:    geometryKey(f),
	}
	// queries see the feature before any override is merged
	if len(cfg.Styles.queries) > 0 {
		doc, err := document(f)
		if err != nil {
			return Result{Feature: f}, err
		}
		r.doc = doc
	}
	if err := r.apply(cfg.Styles); err != nil {
		return Result{Feature: f}, err
	}
	return Result{Feature: f}, nil
}

type resolution struct {
	feature *geojson.Feature
	meta    map[string]any
	geom    string
	doc     any
}

func (r *resolution) apply(c *Compiled) error {
	r.merge(c.root)
	r.merge(c.forGeometry(r.geom))

	for _, q := range c.queries {
		ok, err := r.matches(q)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := r.apply(q.styles); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiled) forGeometry(geom string) *compiledOverride {
	switch geom {
	case "point":
		return c.point
	case "line":
		return c.line
	case "polygon":
		return c.polygon
	}
	return nil
}

func (r *resolution) merge(o *compiledOverride) {
	if o == nil {
		return
	}
	props := r.feature.Properties

	if o.remarks != nil {
		props["remarks"] = o.remarks.Render(r.meta)
	}
	if o.callsign != nil {
		props["callsign"] = o.callsign.Render(r.meta)
	}
	if len(o.links) > 0 {
		links := make([]any, 0, len(o.links))
		for _, l := range o.links {
			link := map[string]any{}
			if l.url != nil {
				link["url"] = l.url.Render(r.meta)
			}
			if l.remarks != nil {
				link["remarks"] = l.remarks.Render(r.meta)
			}
			links = append(links, link)
		}
		props["links"] = links
	}
	for k, v := range o.static {
		props[k] = v
	}
}

// matches evaluates the query against the pre-merge feature document
func (r *resolution) matches(q compiledQuery) (bool, error) {
	v, err := q.expr.Eval(r.doc)
	if err != nil {
		if stderrors.Is(err, jsonata.ErrUndefined) {
			return false, nil
		}
		return false, errors.WrapInvalid(err, "style", "Apply", "evaluate query "+q.source)
	}
	return truthy(v), nil
}

func document(f *geojson.Feature) (any, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, "style", "Apply", "encode feature")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "style", "Apply", "decode feature")
	}
	return doc, nil
}

func metadata(f *geojson.Feature) map[string]any {
	if m, ok := f.Properties["metadata"].(map[string]any); ok {
		return m
	}
	if m, ok := f.Properties["metadata"].(geojson.Properties); ok {
		return m
	}
	return map[string]any{}
}

func geometryKey(f *geojson.Feature) string {
	if f.Geometry == nil {
		return ""
	}
	switch f.Geometry.GeoJSONType() {
	case "Point":
		return "point"
	case "LineString", "MultiLineString":
		return "line"
	case "Polygon", "MultiPolygon":
		return "polygon"
	}
	return ""
}

// truthy follows JSONata boolean casting
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	case []any:
		for _, item := range val {
			if truthy(item) {
				return true
			}
		}
		return false
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
