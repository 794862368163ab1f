package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelEntry is one selectable detector. The first entry of the registry is loaded at startup.
type ModelEntry struct {
	Name       string   `yaml:"name"`
	Path       string   `yaml:"path"`
	Labels     []string `yaml:"labels,omitempty"`
	LabelsPath string   `yaml:"labels_path,omitempty"`
}

type modelsFile struct {
	Models []ModelEntry `yaml:"models"`
}

// LoadModels reads the model registry from a YAML file. Relative model and
// label paths are resolved against the file's directory.
func LoadModels(path string) ([]ModelEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models file: %w", err)
	}

	var file modelsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse models file %s: %w", path, err)
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("models file %s lists no models", path)
	}

	base := filepath.Dir(path)
	for i := range file.Models {
		m := &file.Models[i]
		if m.Name == "" {
			m.Name = strings.TrimSuffix(filepath.Base(m.Path), filepath.Ext(m.Path))
		}
		if m.Path != "" && !filepath.IsAbs(m.Path) {
			m.Path = filepath.Join(base, m.Path)
		}
		if m.LabelsPath != "" && !filepath.IsAbs(m.LabelsPath) {
			m.LabelsPath = filepath.Join(base, m.LabelsPath)
		}
	}
	return file.Models, nil
}

// ResolveLabels returns the class names for the entry: inline labels win,
// then the labels file (one name per line). A nil slice means "unnamed classes".
func (m ModelEntry) ResolveLabels() ([]string, error) {
	if len(m.Labels) > 0 {
		return m.Labels, nil
	}
	if m.LabelsPath == "" {
		return nil, nil
	}

	f, err := os.Open(m.LabelsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels file: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels file: %w", err)
	}
	return labels, nil
}
