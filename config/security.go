package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/takstreams/errors"
)

// Limits applied to every configuration layer
const (
	maxLayerSize = 4 << 20   // one configuration file
	maxStyleSize = 256 << 10 // the raw styles of one layer
	maxNesting   = 64        // objects and arrays, JSON and YAML alike
)

// readLayer reads one configuration file. When root is set the file must
// resolve inside it with symlinks followed, so a site can pin every layer to
// its TAKSTREAMS_CONFIG_DIR.
func readLayer(root, path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("%w: only JSON or YAML config files allowed: %s", errors.ErrInvalidConfig, path)
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config file: %w", err)
	}
	if root != "" {
		if err := within(root, resolved); err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", errors.ErrInvalidConfig, path)
	}
	if info.Size() > maxLayerSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", errors.ErrInvalidConfig, path, info.Size(), maxLayerSize)
	}
	return os.ReadFile(resolved)
}

// within reports an error unless path lies under root
func within(root, path string) error {
	base, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	base, err = filepath.Abs(base)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config file: %w", err)
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s is outside config dir %s", errors.ErrInvalidConfig, path, root)
	}
	return nil
}

// checkJSONNesting walks the token stream so a hostile layer is rejected
// before it is decoded
func checkJSONNesting(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			if depth != 0 {
				return fmt.Errorf("%w: unexpected end of JSON", errors.ErrParsingFailed)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
		d, ok := tok.(json.Delim)
		if !ok {
			continue
		}
		switch d {
		case '{', '[':
			depth++
			if depth > maxNesting {
				return fmt.Errorf("%w: nesting deeper than %d", errors.ErrInvalidConfig, maxNesting)
			}
		case '}', ']':
			depth--
		}
	}
}

// checkNesting bounds the depth of an already decoded YAML document
func checkNesting(v any, depth int) error {
	if depth > maxNesting {
		return fmt.Errorf("%w: nesting deeper than %d", errors.ErrInvalidConfig, maxNesting)
	}
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			if err := checkNesting(child, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range t {
			if err := checkNesting(child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkStyleSize caps the styles of a single layer, queries included
func checkStyleSize(id int64, raw json.RawMessage) error {
	if len(raw) > maxStyleSize {
		return errors.Validation("LayerConfig", "Resolve",
			"styles of layer %d are %d bytes, limit %d", id, len(raw), maxStyleSize)
	}
	return nil
}
