package issue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIssuesFileSize = 8 * 1024 * 1024

// document is the on-disk shape of an issues file.
type document struct {
	Issues []Issue `json:"issues" yaml:"issues"`
}

// LoadFile reads issues from a YAML or JSON file. The file may hold either a
// bare list of issues or a mapping with an "issues" key. Every issue is
// validated; the first invalid one fails the load.
func LoadFile(path string) ([]Issue, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat issues file: %w", err)
	}
	if info.Size() > maxIssuesFileSize {
		return nil, fmt.Errorf("issues file too large: %d bytes (max %d)", info.Size(), maxIssuesFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read issues file: %w", err)
	}

	var issues []Issue
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		issues, err = decodeJSON(data)
	default:
		issues, err = decodeYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse issues file %s: %w", path, err)
	}

	for i := range issues {
		if issues[i].Severity == "" {
			issues[i].Severity = SeverityMedium
		}
		if issues[i].ID == "" {
			issues[i].ID = fmt.Sprintf("issue-%d", i+1)
		}
		if err := issues[i].Validate(); err != nil {
			return nil, err
		}
	}
	return issues, nil
}

func decodeJSON(data []byte) ([]Issue, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []Issue
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	return doc.Issues, nil
}

func decodeYAML(data []byte) ([]Issue, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	if root.Kind == yaml.SequenceNode {
		var list []Issue
		if err := root.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var doc document
	if err := root.Decode(&doc); err != nil {
		return nil, err
	}
	return doc.Issues, nil
}
