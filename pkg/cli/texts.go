package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadRequest loads a request from a YAML or JSON file into the provided struct
func LoadRequest(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	return ParseRequest(data, path, v)
}

// ParseRequest parses request data based on file extension or content
func ParseRequest(data []byte, filename string, v any) error {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		// Try YAML first, then JSON
		if err := yaml.Unmarshal(data, v); err != nil {
			if err2 := json.Unmarshal(data, v); err2 != nil {
				return fmt.Errorf("failed to parse file (tried YAML and JSON)")
			}
		}
	}

	return nil
}

// TextsFile is the structured input format:
//
//	texts:
//	  - first sentence
//	  - second sentence
type TextsFile struct {
	Texts []string `yaml:"texts" json:"texts"`
}

// LoadTexts reads input texts from path; "-" reads stdin as plain lines.
func LoadTexts(path string) ([]string, error) {
	if path == "-" {
		return ReadLines(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseTexts(data, path)
}

// ParseTexts parses .yaml, .yml and .json files as either a list of
// strings or a [TextsFile]. Any other file is read as one text per
// non-empty line.
func ParseTexts(data []byte, filename string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml", ".json":
	default:
		return ReadLines(bytes.NewReader(data))
	}

	var list []string
	if err := ParseRequest(data, filename, &list); err == nil {
		return list, nil
	}
	var f TextsFile
	if err := ParseRequest(data, filename, &f); err != nil {
		return nil, err
	}
	if f.Texts == nil {
		return nil, fmt.Errorf("%s: expected a list of strings or a texts field", filename)
	}
	return f.Texts, nil
}

// ReadLines returns the non-empty lines of r.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return lines, nil
}
