// Package layer holds the pipeline's view of connections, data syncs and
// layers, and the registry that resolves a layer's delivery targets.
package layer

import (
	"github.com/c360/takstreams/style"
)

// Connection is a configured TAK server link
type Connection struct {
	ID      int64  `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// Data is a Mission sync target living on a connection
type Data struct {
	ID           int64  `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Connection   int64  `json:"connection" yaml:"connection"`
	MissionSync  bool   `json:"mission_sync" yaml:"mission_sync"`
	MissionDiff  bool   `json:"mission_diff" yaml:"mission_diff"`
	MissionToken string `json:"mission_token,omitempty" yaml:"mission_token,omitempty"`
}

// Outgoing configures the broker sink of a layer
type Outgoing struct {
	// Subject overrides the default per-layer stream subject
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`
}

// Layer is one ETL pipeline unit. Exactly one of Data and Connection is set.
type Layer struct {
	ID            int64           `json:"id" yaml:"id"`
	Name          string          `json:"name" yaml:"name"`
	Enabled       bool            `json:"enabled" yaml:"enabled"`
	Data          *int64          `json:"data,omitempty" yaml:"data,omitempty"`
	Connection    *int64          `json:"connection,omitempty" yaml:"connection,omitempty"`
	Logging       bool            `json:"logging" yaml:"logging"`
	EnabledStyles bool            `json:"enabled_styles" yaml:"enabled_styles"`
	Styles        style.Container `json:"styles" yaml:"-"`
	Stale         int64           `json:"stale,omitempty" yaml:"stale,omitempty"`
	Outgoing      *Outgoing       `json:"outgoing,omitempty" yaml:"outgoing,omitempty"`
}

// ConnectionID returns the connection the layer ultimately delivers to
func (l *Layer) ConnectionID(data *Data) int64 {
	if l.Connection != nil {
		return *l.Connection
	}
	if data != nil {
		return data.Connection
	}
	return 0
}
