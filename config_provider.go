package dappkit

import (
	"fmt"
	"reflect"
	"sort"
)

// ConfigProvider defines the interface for providing configuration objects
type ConfigProvider interface {
	// GetConfig returns the configuration object
	GetConfig() any
}

// StdConfigProvider provides a standard implementation of ConfigProvider
type StdConfigProvider struct {
	cfg any
}

// GetConfig returns the configuration object
func (s *StdConfigProvider) GetConfig() any {
	return s.cfg
}

// NewStdConfigProvider creates a new standard configuration provider
func NewStdConfigProvider(cfg any) *StdConfigProvider {
	return &StdConfigProvider{cfg: cfg}
}

// Feeder populates a whole configuration structure from one source.
type Feeder interface {
	Feed(target any) error
}

// ComplexFeeder is a Feeder that can also populate a single named section.
// Every feeder in the feeders package implements it; sections are fed
// through FeedKey with the section name as key.
type ComplexFeeder interface {
	Feeder
	FeedKey(key string, target any) error
}

// ConfigSetup is an interface that configs can implement
// to perform additional setup after being populated by feeders
type ConfigSetup interface {
	Setup() error
}

// feedSection runs every feeder over one registered section, in feeder order,
// then gives the section a chance to apply defaults and validate itself.
func feedSection(section string, cp ConfigProvider, feeders []Feeder) error {
	target := cp.GetConfig()
	if target == nil {
		return fmt.Errorf("%w: %s", ErrConfigNilPointer, section)
	}
	if rv := reflect.ValueOf(target); rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("%w: %s", ErrConfigNilPointer, section)
	}

	for _, f := range feeders {
		cf, ok := f.(ComplexFeeder)
		if !ok {
			continue
		}
		if err := cf.FeedKey(section, target); err != nil {
			return fmt.Errorf("%w for %s: %w", ErrConfigFeederError, section, err)
		}
	}

	if setupable, ok := target.(ConfigSetup); ok {
		if err := setupable.Setup(); err != nil {
			return fmt.Errorf("%w for %s: %w", ErrConfigSetupError, section, err)
		}
	}
	return nil
}

// loadAppConfig feeds every registered section. Sections are visited in name
// order so feeder errors are reported deterministically.
func loadAppConfig(app *StdApplication) error {
	names := make([]string, 0, len(app.cfgSections))
	for name := range app.cfgSections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := feedSection(name, app.cfgSections[name], app.feeders); err != nil {
			return err
		}
		app.logger.Debug("Loaded config section", "section", name)
	}
	return nil
}
