package feeders

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// YamlFeeder is a feeder that reads YAML files
type YamlFeeder struct {
	Path string
}

// NewYamlFeeder creates a new YamlFeeder that reads from the specified YAML file
func NewYamlFeeder(filePath string) YamlFeeder {
	return YamlFeeder{Path: filePath}
}

// Feed decodes the whole YAML document into target
func (y YamlFeeder) Feed(target interface{}) error {
	data, err := readConfigFile("yaml", y.Path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal yaml: %w", err)
	}
	return nil
}

// FeedKey reads a YAML file and decodes a single top-level key into target.
// A missing key leaves target untouched.
func (y YamlFeeder) FeedKey(key string, target interface{}) error {
	data, err := readConfigFile("yaml", y.Path)
	if err != nil {
		return err
	}

	var allData map[string]yaml.Node
	if err := yaml.Unmarshal(data, &allData); err != nil {
		return fmt.Errorf("failed to read yaml: %w", err)
	}

	node, exists := allData[key]
	if !exists {
		return nil
	}
	if err := node.Decode(target); err != nil {
		return fmt.Errorf("failed to unmarshal value to target: %w", err)
	}
	return nil
}
