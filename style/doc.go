// Package style applies a layer's cascading style document to GeoJSON features.
//
// A style Container holds root overrides, optional point, line and polygon
// overrides, and an ordered list of queries. Each query pairs a JSONata
// predicate with a nested Container that applies when the predicate is
// truthy for the feature. Every matching query applies, so later matches win
// on conflicting fields.
//
// Template fields (remarks, callsign and link url/remarks) read from
// properties.metadata:
//
//	{{name}}                 value of metadata.name, dotted paths allowed
//	{{fallback a b c}}       first of metadata.a, metadata.b, metadata.c present
//
// Compile parses every template and predicate once. Apply only renders.
//
//	compiled, err := style.Compile(layer.Styles)
//	if err != nil {
//	    return err // invalid class, message contains "Expecting ..."
//	}
//	res, err := style.Apply(feature, style.Config{Stale: 3600, Enabled: true, Styles: compiled})
package style
