package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"
)

// BundlerRule is one file-matching rule of the bundler configuration.
type BundlerRule struct {
	// Test is a regular expression matched against asset paths
	Test string `json:"test" yaml:"test" toml:"test"`
}

// BundlerConfig is the part of the bundler's configuration the pipeline
// reads: module.rules[].test.
type BundlerConfig struct {
	Module struct {
		Rules []BundlerRule `json:"rules" yaml:"rules" toml:"rules"`
	} `json:"module" yaml:"module" toml:"module"`

	patterns []*regexp.Regexp
}

// Matches reports whether any rule matches any of the paths.
func (c *BundlerConfig) Matches(paths []string) bool {
	for _, p := range paths {
		for _, re := range c.patterns {
			if re.MatchString(p) {
				return true
			}
		}
	}
	return false
}

// hclBundlerFile is the HCL form:
//
//	module {
//	  rule { test = "\\.js$" }
//	}
type hclBundlerFile struct {
	Module *hclBundlerModule `hcl:"module,block"`
	Body   hcl.Body          `hcl:",remain"`
}

type hclBundlerModule struct {
	Rules []hclBundlerRule `hcl:"rule,block"`
	Body  hcl.Body         `hcl:",remain"`
}

type hclBundlerRule struct {
	Test string   `hcl:"test"`
	Body hcl.Body `hcl:",remain"`
}

// ReadBundlerConfig reads a bundler configuration file, choosing the format
// by extension. A document that is null or not an object, or a rule whose
// test does not compile, is a configuration error.
func ReadBundlerConfig(path string) (*BundlerConfig, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".hcl" {
		return readHCLBundlerConfig(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundler config: %w", err)
	}

	cfg := &BundlerConfig{}
	switch ext {
	case ".json":
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrBadBundlerConfig, path, err)
		}
		if _, ok := doc.(map[string]any); !ok {
			return nil, notAnObject(path)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrBadBundlerConfig, path, err)
		}
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrBadBundlerConfig, path, err)
		}
		if _, ok := doc.(map[string]any); !ok {
			return nil, notAnObject(path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrBadBundlerConfig, path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrBadBundlerConfig, path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownConfigFormat, path)
	}

	if err := cfg.compile(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadBundlerConfig, path, err)
	}
	return cfg, nil
}

func readHCLBundlerConfig(path string) (*BundlerConfig, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: failed to parse HCL file %s: %w", ErrBadBundlerConfig, path, diags)
	}

	var parsed hclBundlerFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("%w: failed to decode HCL file %s: %w", ErrBadBundlerConfig, path, diags)
	}

	cfg := &BundlerConfig{}
	if parsed.Module != nil {
		for _, rule := range parsed.Module.Rules {
			cfg.Module.Rules = append(cfg.Module.Rules, BundlerRule{Test: rule.Test})
		}
	}
	if err := cfg.compile(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadBundlerConfig, path, err)
	}
	return cfg, nil
}

func (c *BundlerConfig) compile() error {
	c.patterns = c.patterns[:0]
	for i, rule := range c.Module.Rules {
		re, err := regexp.Compile(rule.Test)
		if err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return nil
}

func notAnObject(path string) error {
	return fmt.Errorf("%w: %s: the resolved config was null or not an object", ErrBadBundlerConfig, path)
}
