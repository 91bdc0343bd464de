// Package mappings loads category mapping files into an immutable
// domain.MappingSet.
package mappings

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agxdata/nyc311-weather-etl/internal/domain"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Load reads every .json, .yaml and .yml file in dir. The file stem names the
// mapping; an object is a raw-to-canonical mapping and a list is an
// allow-list. Any malformed file fails the whole load.
func Load(fs afero.Fs, dir string) (domain.MappingSet, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return domain.MappingSet{}, fmt.Errorf("read mappings dir %s: %w", dir, err)
	}

	mappings := make(map[string]map[string]string)
	lists := make(map[string][]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !isMappingFile(e.Name()) {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if _, dup := mappings[name]; dup {
			return domain.MappingSet{}, fmt.Errorf("mapping %q defined twice", name)
		}
		if _, dup := lists[name]; dup {
			return domain.MappingSet{}, fmt.Errorf("mapping %q defined twice", name)
		}

		data, err := afero.ReadFile(fs, filepath.Join(dir, e.Name()))
		if err != nil {
			return domain.MappingSet{}, fmt.Errorf("read mapping %s: %w", e.Name(), err)
		}
		doc, err := decode(ext, data)
		if err != nil {
			return domain.MappingSet{}, fmt.Errorf("parse mapping %s: %w", e.Name(), err)
		}

		switch v := doc.(type) {
		case map[string]any:
			m, err := toMapping(v)
			if err != nil {
				return domain.MappingSet{}, fmt.Errorf("mapping %s: %w", e.Name(), err)
			}
			mappings[name] = m
		case []any:
			l, err := toList(v)
			if err != nil {
				return domain.MappingSet{}, fmt.Errorf("mapping %s: %w", e.Name(), err)
			}
			lists[name] = l
		default:
			return domain.MappingSet{}, fmt.Errorf("mapping %s: expected an object or a list, got %T", e.Name(), doc)
		}
	}
	return domain.NewMappingSet(mappings, lists), nil
}

func toMapping(v map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(v))
	for k, raw := range v {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("value for %q is %T, want string", k, raw)
		}
		out[k] = s
	}
	return out, nil
}

func toList(v []any) ([]string, error) {
	out := make([]string, 0, len(v))
	for i, raw := range v {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("item %d is %T, want string", i, raw)
		}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func decode(ext string, data []byte) (any, error) {
	var doc any
	if ext == ".json" {
		return doc, json.Unmarshal(data, &doc)
	}
	return doc, yaml.Unmarshal(data, &doc)
}

func isMappingFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
