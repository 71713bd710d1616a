package dispatch

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"sheetbridge/internal/catalog"
	"sheetbridge/internal/models"
)

// ConfigSource hands out export configurations. The engine only reads them;
// creation and editing happen in an external panel.
type ConfigSource interface {
	Get(id string) (*models.ExportConfig, bool)
	List() []*models.ExportConfig
}

// StaticSource serves a fixed set of configurations.
type StaticSource struct {
	mu      sync.RWMutex
	configs map[string]*models.ExportConfig
	order   []string
}

func NewStaticSource(configs ...*models.ExportConfig) *StaticSource {
	s := &StaticSource{configs: make(map[string]*models.ExportConfig)}
	for _, c := range configs {
		s.Put(c)
	}
	return s
}

func (s *StaticSource) Put(c *models.ExportConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[c.ID]; !ok {
		s.order = append(s.order, c.ID)
	}
	s.configs[c.ID] = c
}

func (s *StaticSource) Get(id string) (*models.ExportConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[id]
	return c, ok
}

func (s *StaticSource) List() []*models.ExportConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ExportConfig, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.configs[id])
	}
	return out
}

// LoadConfigs reads export configurations from a yaml file with a top-level
// configs list. Every entry is validated against the catalog up front so a
// broken file fails at startup, not at dispatch time.
func LoadConfigs(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configs %s: %w", path, err)
	}

	var file struct {
		Configs []*models.ExportConfig `yaml:"configs"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse configs %s: %w", path, err)
	}

	src := NewStaticSource()
	for _, c := range file.Configs {
		if err := ValidateConfig(c); err != nil {
			return nil, fmt.Errorf("config %s: %w", c.ID, err)
		}
		src.Put(c)
	}
	return src, nil
}

// ValidateConfig checks the parts of a configuration the engine depends on.
// An empty field selection is allowed; such a run exports nothing.
func ValidateConfig(c *models.ExportConfig) error {
	if c.ID == "" {
		return fmt.Errorf("missing id")
	}
	if c.Token == "" {
		return fmt.Errorf("missing upstream token")
	}
	if c.Destination == "" {
		return fmt.Errorf("missing destination")
	}
	ds, ok := catalog.GetDataset(c.Dataset)
	if !ok {
		return fmt.Errorf("unknown dataset %q", c.Dataset)
	}
	for _, opt := range ds.RequiredOptions {
		if c.Options[opt] == "" {
			return fmt.Errorf("dataset %s requires option %s", ds.ID, opt)
		}
	}
	return nil
}
