// Package feeders provides configuration feeders for reading data from
// YAML, TOML and JSON files and from prefixed environment variables.
//
// Every feeder implements both Feed (the whole document into one target)
// and FeedKey (one top-level section into one target), which is how the
// application feeds module configuration sections.
package feeders

import (
	"fmt"
	"os"
)

// readConfigFile reads the file backing a file feeder.
func readConfigFile(fileType, path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: %s", ErrFeederPathEmpty, fileType)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapReadError(fileType, path, err)
	}
	return data, nil
}
