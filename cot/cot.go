// Package cot converts GeoJSON features into Cursor-on-Target events and back.
package cot

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/c360/takstreams/errors"
)

// TimeFormat is the timestamp layout used in CoT event attributes
const TimeFormat = "2006-01-02T15:04:05.000Z"

// DefaultStale is used when a feature carries no stale property
const DefaultStale = 20 * time.Second

// now is swapped in tests
var now = time.Now

// Event is the XML shape of a CoT event
type Event struct {
	XMLName xml.Name `xml:"event"`
	Version string   `xml:"version,attr"`
	UID     string   `xml:"uid,attr"`
	Type    string   `xml:"type,attr"`
	How     string   `xml:"how,attr"`
	Time    string   `xml:"time,attr"`
	Start   string   `xml:"start,attr"`
	Stale   string   `xml:"stale,attr"`
	Point   Point    `xml:"point"`
	Detail  Detail   `xml:"detail"`
}

// Point is the event anchor position
type Point struct {
	Lat float64 `xml:"lat,attr"`
	Lon float64 `xml:"lon,attr"`
	Hae float64 `xml:"hae,attr"`
	CE  float64 `xml:"ce,attr"`
	LE  float64 `xml:"le,attr"`
}

// Detail carries the optional event sub-elements the pipeline writes
type Detail struct {
	Contact      *Contact  `xml:"contact,omitempty"`
	Remarks      *Remarks  `xml:"remarks,omitempty"`
	Links        []Link    `xml:"link,omitempty"`
	Color        *Color    `xml:"color,omitempty"`
	UserIcon     *UserIcon `xml:"usericon,omitempty"`
	StrokeColor  *Value    `xml:"strokeColor,omitempty"`
	StrokeWeight *Value    `xml:"strokeWeight,omitempty"`
	FillColor    *Value    `xml:"fillColor,omitempty"`
	Marti        *Marti    `xml:"marti,omitempty"`
}

// Contact holds the display callsign
type Contact struct {
	Callsign string `xml:"callsign,attr"`
}

// Remarks is free text shown with the entity
type Remarks struct {
	Text string `xml:",chardata"`
}

// Link is either a URL link or a shape vertex
type Link struct {
	URL      string `xml:"url,attr,omitempty"`
	Remarks  string `xml:"remarks,attr,omitempty"`
	Relation string `xml:"relation,attr,omitempty"`
	Point    string `xml:"point,attr,omitempty"`
}

// Color is an ARGB integer colour
type Color struct {
	ARGB int32 `xml:"argb,attr"`
}

// UserIcon references an iconset path
type UserIcon struct {
	IconsetPath string `xml:"iconsetpath,attr"`
}

// Value is an element with a single value attribute
type Value struct {
	Value string `xml:"value,attr"`
}

// Marti lists delivery destinations
type Marti struct {
	Dest []Dest `xml:"dest"`
}

// Dest is a single delivery destination
type Dest struct {
	Mission string `xml:"mission,attr,omitempty"`
	UID     string `xml:"uid,attr,omitempty"`
}

// CoT pairs an encoded event with the feature it was built from
type CoT struct {
	Event   Event
	feature *geojson.Feature
}

// UID returns the entity identity
func (c *CoT) UID() string {
	return c.Event.UID
}

// AddDest tags the event for delivery to a mission. Adding the same mission twice is a no-op.
func (c *CoT) AddDest(mission string) {
	if c.Event.Detail.Marti == nil {
		c.Event.Detail.Marti = &Marti{}
	}
	for _, d := range c.Event.Detail.Marti.Dest {
		if d.Mission == mission {
			return
		}
	}
	c.Event.Detail.Marti.Dest = append(c.Event.Detail.Marti.Dest, Dest{Mission: mission})
}

// Missions returns the mission destinations of the event
func (c *CoT) Missions() []string {
	if c.Event.Detail.Marti == nil {
		return nil
	}
	var out []string
	for _, d := range c.Event.Detail.Marti.Dest {
		if d.Mission != "" {
			out = append(out, d.Mission)
		}
	}
	return out
}

// XML encodes the event
func (c *CoT) XML() (string, error) {
	raw, err := xml.Marshal(c.Event)
	if err != nil {
		return "", errors.Wrap(err, "CoT", "XML", "marshal event")
	}
	return string(raw), nil
}

// GeoJSON returns the feature form of the event with its id set to the uid
func (c *CoT) GeoJSON() *geojson.Feature {
	f := geojson.NewFeature(c.feature.Geometry)
	f.ID = c.Event.UID
	for k, v := range c.feature.Properties {
		f.Properties[k] = v
	}
	f.Properties["type"] = c.Event.Type
	f.Properties["how"] = c.Event.How
	f.Properties["time"] = c.Event.Time
	f.Properties["start"] = c.Event.Start
	f.Properties["stale"] = c.Event.Stale
	return f
}

// IsDiff reports whether the two events differ in content. Timestamps are
// ignored so re-sending an unchanged entity is detected.
func (c *CoT) IsDiff(other *CoT) bool {
	if other == nil {
		return true
	}
	return !bytes.Equal(c.fingerprint(), other.fingerprint())
}

func (c *CoT) fingerprint() []byte {
	ev := c.Event
	ev.Time, ev.Start, ev.Stale = "", "", ""
	ev.Detail.Marti = nil
	raw, err := xml.Marshal(ev)
	if err != nil {
		return nil
	}
	return raw
}

// FromFeature builds a CoT event from a GeoJSON feature. Features without an
// id get a random uid.
func FromFeature(f *geojson.Feature) (*CoT, error) {
	if f == nil || f.Geometry == nil {
		return nil, errors.Validation("CoT", "FromFeature", "feature has no geometry")
	}
	props := f.Properties
	if props == nil {
		props = geojson.Properties{}
	}

	uid := featureID(f)
	if uid == "" {
		uid = uuid.NewString()
	}

	start := now().UTC()
	if t, ok := parseTime(props["start"]); ok {
		start = t
	}
	stamp := start
	if t, ok := parseTime(props["time"]); ok {
		stamp = t
	}
	stale := start.Add(DefaultStale)
	if t, ok := parseStale(props["stale"], start); ok {
		stale = t
	}

	ev := Event{
		Version: "2.0",
		UID:     uid,
		Type:    stringProp(props, "type", defaultType(f.Geometry)),
		How:     stringProp(props, "how", "h-g-i-g-o"),
		Time:    stamp.Format(TimeFormat),
		Start:   start.Format(TimeFormat),
		Stale:   stale.Format(TimeFormat),
		Point:   anchor(f.Geometry),
	}
	ev.Point.CE, ev.Point.LE = 9999999, 9999999

	if cs := props.MustString("callsign", ""); cs != "" {
		ev.Detail.Contact = &Contact{Callsign: cs}
	}
	if rm := props.MustString("remarks", ""); rm != "" {
		ev.Detail.Remarks = &Remarks{Text: rm}
	}
	ev.Detail.Links = append(ev.Detail.Links, urlLinks(props["links"])...)
	ev.Detail.Links = append(ev.Detail.Links, vertexLinks(f.Geometry)...)
	applyStyle(&ev.Detail, props)

	if dests, ok := props["dest"].([]any); ok {
		for _, d := range dests {
			if m, ok := d.(map[string]any); ok {
				if mission, ok := m["mission"].(string); ok && mission != "" {
					if ev.Detail.Marti == nil {
						ev.Detail.Marti = &Marti{}
					}
					ev.Detail.Marti.Dest = append(ev.Detail.Marti.Dest, Dest{Mission: mission})
				}
			}
		}
	}

	return &CoT{Event: ev, feature: f}, nil
}

func featureID(f *geojson.Feature) string {
	switch id := f.ID.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case nil:
		return f.Properties.MustString("id", "")
	default:
		return fmt.Sprint(id)
	}
}

func defaultType(g orb.Geometry) string {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return "a-f-G"
	default:
		return "u-d-f"
	}
}

func anchor(g orb.Geometry) Point {
	if p, ok := g.(orb.Point); ok {
		return Point{Lat: p.Lat(), Lon: p.Lon()}
	}
	c := g.Bound().Center()
	return Point{Lat: c.Lat(), Lon: c.Lon()}
}

func vertexLinks(g orb.Geometry) []Link {
	var ring []orb.Point
	switch geom := g.(type) {
	case orb.LineString:
		ring = geom
	case orb.Polygon:
		if len(geom) > 0 {
			ring = geom[0]
		}
	default:
		return nil
	}
	links := make([]Link, 0, len(ring))
	for _, p := range ring {
		links = append(links, Link{Point: fmt.Sprintf("%g,%g", p.Lat(), p.Lon())})
	}
	return links
}

func urlLinks(v any) []Link {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	var links []Link
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		url, _ := m["url"].(string)
		if url == "" {
			continue
		}
		remarks, _ := m["remarks"].(string)
		links = append(links, Link{URL: url, Remarks: remarks, Relation: "r-u"})
	}
	return links
}

func applyStyle(d *Detail, props geojson.Properties) {
	if icon := props.MustString("icon", ""); icon != "" {
		d.UserIcon = &UserIcon{IconsetPath: icon}
	}
	if c, ok := hexColor(props.MustString("marker-color", props.MustString("color", "")), props["marker-opacity"]); ok {
		d.Color = &Color{ARGB: c}
	}
	if c, ok := hexColor(props.MustString("stroke", ""), props["stroke-opacity"]); ok {
		d.StrokeColor = &Value{Value: strconv.Itoa(int(c))}
	}
	if w, ok := props["stroke-width"].(float64); ok {
		d.StrokeWeight = &Value{Value: strconv.FormatFloat(w, 'f', -1, 64)}
	}
	if c, ok := hexColor(props.MustString("fill", ""), props["fill-opacity"]); ok {
		d.FillColor = &Value{Value: strconv.Itoa(int(c))}
	}
}

// hexColor converts "#rrggbb" plus an optional 0-1 opacity into a signed ARGB int
func hexColor(hex string, opacity any) (int32, bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, false
	}
	rgb, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, false
	}
	alpha := uint64(255)
	if o, ok := opacity.(float64); ok && o >= 0 && o <= 1 {
		alpha = uint64(o * 255)
	}
	return int32(uint32(alpha<<24 | rgb)), true
}

func stringProp(props geojson.Properties, key, def string) string {
	if v := props.MustString(key, ""); v != "" {
		return v
	}
	return def
}

func parseTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// parseStale accepts either an absolute timestamp or a millisecond offset from start
func parseStale(v any, start time.Time) (time.Time, bool) {
	switch s := v.(type) {
	case float64:
		return start.Add(time.Duration(s) * time.Millisecond), true
	case int64:
		return start.Add(time.Duration(s) * time.Millisecond), true
	case json.Number:
		ms, err := s.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return start.Add(time.Duration(ms) * time.Millisecond), true
	default:
		return parseTime(v)
	}
}
