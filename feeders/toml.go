package feeders

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// TomlFeeder is a feeder that reads TOML files
type TomlFeeder struct {
	Path string
}

// NewTomlFeeder creates a new TomlFeeder that reads from the specified TOML file
func NewTomlFeeder(filePath string) TomlFeeder {
	return TomlFeeder{Path: filePath}
}

// Feed decodes the whole TOML document into target
func (t TomlFeeder) Feed(target interface{}) error {
	data, err := readConfigFile("toml", t.Path)
	if err != nil {
		return err
	}
	if _, err := toml.Decode(string(data), target); err != nil {
		return fmt.Errorf("failed to unmarshal toml: %w", err)
	}
	return nil
}

// FeedKey reads a TOML file and decodes a single top-level table into target.
// A missing table leaves target untouched.
func (t TomlFeeder) FeedKey(key string, target interface{}) error {
	data, err := readConfigFile("toml", t.Path)
	if err != nil {
		return err
	}

	var allData map[string]toml.Primitive
	md, err := toml.Decode(string(data), &allData)
	if err != nil {
		return fmt.Errorf("failed to read toml: %w", err)
	}

	value, exists := allData[key]
	if !exists {
		return nil
	}
	if err := md.PrimitiveDecode(value, target); err != nil {
		return fmt.Errorf("failed to unmarshal value to target: %w", err)
	}
	return nil
}
