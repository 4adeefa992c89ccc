package style

import (
	_ "embed"
	"encoding/json"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/takstreams/errors"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return schema, schemaErr
}

// ParseContainer validates raw style JSON against the style schema and
// decodes it. Empty input yields an empty container.
func ParseContainer(raw []byte) (Container, error) {
	var c Container
	if len(strings.TrimSpace(string(raw))) == 0 {
		return c, nil
	}

	s, err := loadSchema()
	if err != nil {
		return c, errors.WrapFatal(err, "style", "ParseContainer", "load schema")
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return c, errors.WrapInvalid(err, "style", "ParseContainer", "read document")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return c, errors.Validation("style", "ParseContainer", "%s", strings.Join(msgs, "; "))
	}

	if err := json.Unmarshal(raw, &c); err != nil {
		return c, errors.WrapInvalid(err, "style", "ParseContainer", "decode document")
	}
	return c, nil
}
