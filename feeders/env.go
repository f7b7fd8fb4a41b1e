package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

var durationType = reflect.TypeOf(time.Duration(0))

// EnvFeeder is a feeder that reads environment variables named
// <Prefix>_<SECTION>_<TAG>, where TAG is the field's env struct tag.
// Nested structs extend the name with their own tag.
type EnvFeeder struct {
	Prefix string

	// Lookup replaces os.LookupEnv, mainly for tests.
	Lookup func(key string) (string, bool)
}

// NewEnvFeeder creates a new EnvFeeder that reads variables with the given prefix
func NewEnvFeeder(prefix string) EnvFeeder {
	return EnvFeeder{Prefix: prefix}
}

// Feed populates target from variables named <Prefix>_<TAG>
func (f EnvFeeder) Feed(target interface{}) error {
	return f.feed(f.Prefix, target)
}

// FeedKey populates target from variables named <Prefix>_<KEY>_<TAG>
func (f EnvFeeder) FeedKey(key string, target interface{}) error {
	return f.feed(joinEnvName(f.Prefix, key), target)
}

func (f EnvFeeder) feed(prefix string, target interface{}) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return ErrEnvInvalidStructure
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return ErrEnvInvalidStructure
	}
	return f.feedStruct(prefix, rv)
}

func (f EnvFeeder) feedStruct(prefix string, rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		tag, ok := field.Tag.Lookup("env")
		if !ok || tag == "-" || !field.IsExported() {
			continue
		}
		name := joinEnvName(prefix, tag)
		fv := rv.Field(i)

		if fv.Kind() == reflect.Struct && field.Type != durationType {
			if err := f.feedStruct(name, fv); err != nil {
				return err
			}
			continue
		}

		value, exists := f.lookup(name)
		if !exists {
			continue
		}
		if err := setField(fv, name, value); err != nil {
			return err
		}
	}
	return nil
}

func (f EnvFeeder) lookup(name string) (string, bool) {
	if f.Lookup != nil {
		return f.Lookup(name)
	}
	return os.LookupEnv(name)
}

func setField(fv reflect.Value, name, value string) error {
	if !fv.CanSet() {
		return fmt.Errorf("%w: %s", ErrEnvFieldCannotBeSet, name)
	}

	switch {
	case fv.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("env: %s: %w", name, err)
		}
		fv.SetInt(int64(d))
		return nil
	case fv.Kind() == reflect.Slice && fv.Type().Elem().Kind() == reflect.String:
		parts := strings.Split(value, ",")
		out := reflect.MakeSlice(fv.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = reflect.Append(out, reflect.ValueOf(p).Convert(fv.Type().Elem()))
			}
		}
		fv.Set(out)
		return nil
	}

	converted, err := cast.FromType(value, fv.Type())
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEnvInvalidValue, name, err)
	}
	cv := reflect.ValueOf(converted)
	if !cv.Type().ConvertibleTo(fv.Type()) {
		return wrapEnvTypeError(name, fv.Type())
	}
	fv.Set(cv.Convert(fv.Type()))
	return nil
}

func joinEnvName(prefix, name string) string {
	name = strings.ToUpper(name)
	if prefix == "" {
		return name
	}
	return strings.ToUpper(prefix) + "_" + name
}
