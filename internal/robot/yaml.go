package robot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadTree reads a robot description from a YAML file and, optionally, a
// brain genotype from a second YAML file.
//
// A robot file with top level "body" (and optionally "brain") keys is split
// into those parts; any other document is taken to be the body. A genotype
// file replaces whatever brain the robot file carried.
func LoadTree(robotPath, genotypePath string) (Tree, error) {
	doc, err := readYAML(robotPath)
	if err != nil {
		return Tree{}, err
	}

	tree := Tree{ID: strings.TrimSuffix(filepath.Base(robotPath), filepath.Ext(robotPath))}

	body := doc
	var brain any
	if m, ok := doc.(map[string]any); ok {
		if b, ok := m["body"]; ok {
			body = b
			brain = m["brain"]
		}
	}
	if body == nil {
		return Tree{}, fmt.Errorf("robot file %s: empty body", robotPath)
	}

	if tree.Body, err = json.Marshal(body); err != nil {
		return Tree{}, fmt.Errorf("robot file %s: encode body: %w", robotPath, err)
	}

	if genotypePath != "" {
		if brain, err = readYAML(genotypePath); err != nil {
			return Tree{}, err
		}
	}
	if brain != nil {
		if tree.Brain, err = json.Marshal(brain); err != nil {
			return Tree{}, fmt.Errorf("encode brain: %w", err)
		}
	}

	return tree, nil
}

func readYAML(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return normalize(doc), nil
}

// normalize rewrites maps with non-string keys so the document can be
// marshalled as JSON.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			x[k] = normalize(val)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		for i, val := range x {
			x[i] = normalize(val)
		}
		return x
	default:
		return v
	}
}
