package style

// Link is a templated URL attached to a feature
type Link struct {
	URL     string `json:"url"`
	Remarks string `json:"remarks,omitempty"`
}

// Override is one block of style fields. Remarks, Callsign and link fields
// are templates; the rest are copied as-is when set.
type Override struct {
	Remarks  string `json:"remarks,omitempty"`
	Callsign string `json:"callsign,omitempty"`
	Links    []Link `json:"links,omitempty"`

	Type          string   `json:"type,omitempty"`
	Color         string   `json:"color,omitempty"`
	Icon          string   `json:"icon,omitempty"`
	Stroke        string   `json:"stroke,omitempty"`
	StrokeOpacity *float64 `json:"stroke-opacity,omitempty"`
	StrokeWidth   *float64 `json:"stroke-width,omitempty"`
	Fill          string   `json:"fill,omitempty"`
	FillOpacity   *float64 `json:"fill-opacity,omitempty"`
}

// Container is the persisted style document of a layer. The embedded
// Override holds the root-level fields applied to every feature.
type Container struct {
	Override

	Point   *Override `json:"point,omitempty"`
	Line    *Override `json:"line,omitempty"`
	Polygon *Override `json:"polygon,omitempty"`

	Queries []Query `json:"queries,omitempty"`
}

// Query applies Styles to every feature for which the predicate is truthy
type Query struct {
	Query  string    `json:"query"`
	Styles Container `json:"styles"`
	// Delete marks matching features for removal. Parsed but not acted on yet.
	Delete bool `json:"delete,omitempty"`
}
