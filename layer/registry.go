package layer

import (
	"sort"
	"sync"

	"github.com/c360/takstreams/errors"
	"github.com/c360/takstreams/style"
)

// Entry is a layer with its compiled styles and resolved data sync. The
// registry replaces entries rather than modifying them.
type Entry struct {
	Layer  Layer
	Styles *style.Compiled
	Data   *Data
}

// StyleConfig returns the input for style.Apply
func (e *Entry) StyleConfig() style.Config {
	return style.Config{
		Stale:   e.Layer.Stale,
		Enabled: e.Layer.EnabledStyles,
		Styles:  e.Styles,
	}
}

// MissionDiff reports whether the layer reconciles against its mission
func (e *Entry) MissionDiff() bool {
	return e.Data != nil && e.Data.MissionSync && e.Data.MissionDiff
}

// Registry is an in-memory, concurrency-safe catalogue of connections, data
// syncs and layers.
type Registry struct {
	mu          sync.RWMutex
	connections map[int64]Connection
	data        map[int64]Data
	layers      map[int64]*Entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[int64]Connection),
		data:        make(map[int64]Data),
		layers:      make(map[int64]*Entry),
	}
}

// PutConnection adds or replaces a connection
func (r *Registry) PutConnection(c Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[c.ID] = c
}

// PutData adds or replaces a data sync. Enabling mission diff on a data sync
// already consumed by more than one layer is rejected.
func (r *Registry) PutData(d Data) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[d.Connection]; !ok {
		return errors.WrapInvalid(errors.ErrConnectionNotFound, "Registry", "PutData", "resolve connection")
	}
	if d.MissionDiff && len(r.consumersLocked(d.ID, 0)) > 1 {
		return errors.Validation("Registry", "PutData",
			"data %d has multiple layers and cannot use mission diff", d.ID)
	}

	r.data[d.ID] = d
	// entries already handed out by Layer stay immutable
	for id, e := range r.layers {
		if e.Layer.Data != nil && *e.Layer.Data == d.ID {
			dd := d
			r.layers[id] = &Entry{Layer: e.Layer, Styles: e.Styles, Data: &dd}
		}
	}
	return nil
}

// PutLayer validates, compiles and stores a layer
func (r *Registry) PutLayer(l Layer) error {
	if (l.Data == nil) == (l.Connection == nil) {
		return errors.Validation("Registry", "PutLayer", "layer %d must set exactly one of data or connection", l.ID)
	}

	compiled, err := style.Compile(l.Styles)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := &Entry{Layer: l, Styles: compiled}

	if l.Connection != nil {
		if _, ok := r.connections[*l.Connection]; !ok {
			return errors.WrapInvalid(errors.ErrConnectionNotFound, "Registry", "PutLayer", "resolve connection")
		}
	}
	if l.Data != nil {
		d, ok := r.data[*l.Data]
		if !ok {
			return errors.WrapInvalid(errors.ErrDataNotFound, "Registry", "PutLayer", "resolve data")
		}
		if d.MissionDiff && len(r.consumersLocked(d.ID, l.ID)) > 0 {
			return errors.Validation("Registry", "PutLayer",
				"data %d uses mission diff and already has a layer", d.ID)
		}
		entry.Data = &d
	}

	r.layers[l.ID] = entry
	return nil
}

// DeleteLayer removes a layer
func (r *Registry) DeleteLayer(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.layers, id)
}

// consumersLocked lists layers reading from data, ignoring the layer exclude
func (r *Registry) consumersLocked(data, exclude int64) []int64 {
	var ids []int64
	for id, e := range r.layers {
		if id != exclude && e.Layer.Data != nil && *e.Layer.Data == data {
			ids = append(ids, id)
		}
	}
	return ids
}

// Layer returns the layer entry for id
func (r *Registry) Layer(id int64) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.layers[id]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrLayerNotFound, "Registry", "Layer", "lookup layer")
	}
	return e, nil
}

// Connection returns the connection for id
func (r *Registry) Connection(id int64) (Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connections[id]
	if !ok {
		return Connection{}, errors.WrapInvalid(errors.ErrConnectionNotFound, "Registry", "Connection", "lookup connection")
	}
	return c, nil
}

// Connections returns all connections ordered by id
func (r *Registry) Connections() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, 0, len(r.connections))
	for _, c := range r.connections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OutgoingLayers returns the enabled layers under connection that have a
// broker sink configured, ordered by layer id.
func (r *Registry) OutgoingLayers(connection int64) []Layer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Layer
	for _, e := range r.layers {
		if !e.Layer.Enabled || e.Layer.Outgoing == nil {
			continue
		}
		if e.Layer.ConnectionID(e.Data) == connection {
			out = append(out, e.Layer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
