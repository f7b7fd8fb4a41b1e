package feeders

import (
	"encoding/json"
	"fmt"
)

// JSONFeeder is a feeder that reads JSON files
type JSONFeeder struct {
	Path string
}

// NewJSONFeeder creates a new JSONFeeder that reads from the specified JSON file
func NewJSONFeeder(filePath string) JSONFeeder {
	return JSONFeeder{Path: filePath}
}

// Feed decodes the whole JSON document into target
func (j JSONFeeder) Feed(target interface{}) error {
	data, err := readConfigFile("json", j.Path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal json: %w", err)
	}
	return nil
}

// FeedKey reads a JSON file and decodes a single top-level key into target.
// A missing key leaves target untouched.
func (j JSONFeeder) FeedKey(key string, target interface{}) error {
	data, err := readConfigFile("json", j.Path)
	if err != nil {
		return err
	}

	var allData map[string]json.RawMessage
	if err := json.Unmarshal(data, &allData); err != nil {
		return fmt.Errorf("failed to read json: %w", err)
	}

	value, exists := allData[key]
	if !exists {
		return nil
	}
	if err := json.Unmarshal(value, target); err != nil {
		return fmt.Errorf("failed to unmarshal value to target: %w", err)
	}
	return nil
}
