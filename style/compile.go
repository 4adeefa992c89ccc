package style

import (
	"fmt"

	"github.com/blues/jsonata-go"

	"github.com/c360/takstreams/errors"
)

// Compiled is a validated Container with every template parsed and every
// query expression compiled.
type Compiled struct {
	root    *compiledOverride
	point   *compiledOverride
	line    *compiledOverride
	polygon *compiledOverride
	queries []compiledQuery
}

type compiledLink struct {
	url     *Template
	remarks *Template
}

type compiledOverride struct {
	remarks  *Template
	callsign *Template
	links    []compiledLink
	static   map[string]any
}

type compiledQuery struct {
	source string
	expr   *jsonata.Expr
	styles *Compiled
	delete bool
}

// Compile validates c and prepares it for Apply. Template syntax errors and
// invalid query expressions return an invalid-class error naming the path of
// the offending field.
func Compile(c Container) (*Compiled, error) {
	return compile(c, "styles")
}

// Validate reports whether c compiles
func Validate(c Container) error {
	_, err := Compile(c)
	return err
}

func compile(c Container, path string) (*Compiled, error) {
	out := &Compiled{}
	var err error

	if out.root, err = compileOverride(&c.Override, path); err != nil {
		return nil, err
	}
	if out.point, err = compileOverride(c.Point, path+".point"); err != nil {
		return nil, err
	}
	if out.line, err = compileOverride(c.Line, path+".line"); err != nil {
		return nil, err
	}
	if out.polygon, err = compileOverride(c.Polygon, path+".polygon"); err != nil {
		return nil, err
	}

	for i, q := range c.Queries {
		qpath := fmt.Sprintf("%s.queries[%d]", path, i)
		expr, err := jsonata.Compile(q.Query)
		if err != nil {
			return nil, errors.Validation("style", "Compile", "%s.query: %v", qpath, err)
		}
		nested, err := compile(q.Styles, qpath+".styles")
		if err != nil {
			return nil, err
		}
		out.queries = append(out.queries, compiledQuery{
			source: q.Query,
			expr:   expr,
			styles: nested,
			delete: q.Delete,
		})
	}

	return out, nil
}

func compileOverride(o *Override, path string) (*compiledOverride, error) {
	if o == nil {
		return nil, nil
	}

	out := &compiledOverride{}
	var err error

	if out.remarks, err = compileField(o.Remarks, path+".remarks"); err != nil {
		return nil, err
	}
	if out.callsign, err = compileField(o.Callsign, path+".callsign"); err != nil {
		return nil, err
	}

	for i, l := range o.Links {
		lpath := fmt.Sprintf("%s.links[%d]", path, i)
		url, err := compileField(l.URL, lpath+".url")
		if err != nil {
			return nil, err
		}
		remarks, err := compileField(l.Remarks, lpath+".remarks")
		if err != nil {
			return nil, err
		}
		out.links = append(out.links, compiledLink{url: url, remarks: remarks})
	}

	out.static = staticFields(o)
	return out, nil
}

func compileField(text, path string) (*Template, error) {
	if text == "" {
		return nil, nil
	}
	t, err := ParseTemplate(text)
	if err != nil {
		return nil, errors.Validation("style", "Compile", "%s: %v", path, err)
	}
	return t, nil
}

func staticFields(o *Override) map[string]any {
	fields := map[string]any{}
	set := func(key, v string) {
		if v != "" {
			fields[key] = v
		}
	}
	setNum := func(key string, v *float64) {
		if v != nil {
			fields[key] = *v
		}
	}

	set("type", o.Type)
	set("marker-color", o.Color)
	set("icon", o.Icon)
	set("stroke", o.Stroke)
	setNum("stroke-opacity", o.StrokeOpacity)
	setNum("stroke-width", o.StrokeWidth)
	set("fill", o.Fill)
	setNum("fill-opacity", o.FillOpacity)

	if len(fields) == 0 {
		return nil
	}
	return fields
}
