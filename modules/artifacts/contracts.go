package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/GoCodeAlone/dappkit/modules/pipeline"
)

// ErrBadArtifact marks a compiled contract record that cannot be decoded.
var ErrBadArtifact = errors.New("bad contract artifact")

// ListContracts reads every *.json record in dir, sorted by class name. A
// record without a className takes its file name. A missing dir lists
// nothing.
func ListContracts(dir string) ([]pipeline.Contract, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		if _, err := os.Stat(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, nil
	}

	contracts := make([]pipeline.Contract, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var c pipeline.Contract
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrBadArtifact, path, err)
		}
		if c.ClassName == "" {
			c.ClassName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		if err := pipeline.ValidateClassName(c.ClassName); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrBadArtifact, path, err)
		}
		contracts = append(contracts, c)
	}
	sort.Slice(contracts, func(i, j int) bool { return contracts[i].ClassName < contracts[j].ClassName })
	return contracts, nil
}
