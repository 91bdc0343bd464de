package mappings

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/agxdata/nyc311-weather-etl/internal/domain"
)

// Standardize rewrites every mapping file in dir so keys, values and list
// items are whitespace-collapsed and title-cased, matching the spelling the
// normalizer produces. When two raw keys collapse to the same key, the value
// of the lexicographically smallest raw key wins. It returns the rewritten
// file names.
func Standardize(fs afero.Fs, dir string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("read mappings dir %s: %w", dir, err)
	}

	title := cases.Title(language.English)
	clean := func(s string) string { return title.String(domain.CollapseWhitespace(s)) }

	var rewritten []string
	for _, e := range entries {
		if e.IsDir() || !isMappingFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		ext := strings.ToLower(filepath.Ext(e.Name()))

		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return rewritten, fmt.Errorf("read mapping %s: %w", e.Name(), err)
		}
		doc, err := decode(ext, data)
		if err != nil {
			return rewritten, fmt.Errorf("parse mapping %s: %w", e.Name(), err)
		}

		var out any
		switch v := doc.(type) {
		case map[string]any:
			m, err := toMapping(v)
			if err != nil {
				return rewritten, fmt.Errorf("mapping %s: %w", e.Name(), err)
			}
			out = standardizeMapping(m, clean)
		case []any:
			l, err := toList(v)
			if err != nil {
				return rewritten, fmt.Errorf("mapping %s: %w", e.Name(), err)
			}
			out = standardizeList(l, clean)
		default:
			continue
		}

		var encoded []byte
		if ext == ".json" {
			encoded, err = json.MarshalIndent(out, "", "    ")
			encoded = append(encoded, '\n')
		} else {
			encoded, err = yaml.Marshal(out)
		}
		if err != nil {
			return rewritten, fmt.Errorf("encode mapping %s: %w", e.Name(), err)
		}
		if err := afero.WriteFile(fs, path, encoded, 0o644); err != nil {
			return rewritten, fmt.Errorf("write mapping %s: %w", e.Name(), err)
		}
		rewritten = append(rewritten, e.Name())
	}
	return rewritten, nil
}

func standardizeMapping(m map[string]string, clean func(string) string) map[string]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(m))
	for _, k := range keys {
		ck := clean(k)
		if _, seen := out[ck]; !seen {
			out[ck] = clean(m[k])
		}
	}
	return out
}

func standardizeList(items []string, clean func(string) string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		c := clean(it)
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
