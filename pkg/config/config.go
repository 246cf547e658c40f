// Package config loads YAML configuration and fills defaults declared
// with `default` struct tags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/forest33/dpipe/pkg/structs"
)

const (
	tagDefault = "default"

	envConfigPath = "DPIPE_CONFIG"
)

// Load reads the configuration file into cfg and applies defaults.
// A missing file is not an error; defaults alone make a valid config.
func Load(fileName string, cfg interface{}) (string, error) {
	path, ok := os.LookupEnv(envConfigPath)
	if !ok {
		if fileName == "" {
			ex, err := os.Executable()
			if err != nil {
				return "", err
			}
			path = filepath.Join(filepath.Dir(ex), "dpipe.yaml")
		} else {
			path = fileName
		}
	}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	if err = yaml.Unmarshal(data, cfg); err != nil {
		return "", err
	}

	if err := Parse(cfg); err != nil {
		return "", err
	}

	return path, nil
}

// Parse fills zero-valued fields from their `default` tags, descending
// into pointer and slice fields.
func Parse(target interface{}) error {
	ref := reflect.Indirect(reflect.ValueOf(target))
	for i := 0; i < ref.Type().NumField(); i++ {
		structField := ref.Type().Field(i)
		fieldValue := ref.Field(i)

		if isSet(structField, &fieldValue) {
			continue
		}

		defaultTagValue, defaultTagExists := structField.Tag.Lookup(tagDefault)

		if defaultTagExists {
			if err := setValue(structField, &fieldValue, defaultTagValue); err != nil {
				return err
			}
			continue
		}

		if fieldValue.IsZero() && structField.Type.Kind() != reflect.Bool && structField.Type.Kind() != reflect.Ptr && structField.Type.Kind() != reflect.Slice {
			return fmt.Errorf("required configuration parameter is not specified - %s.%s", ref.Type().Name(), structField.Name)
		}

		if structField.Type.Kind() == reflect.Ptr || structField.Type.Kind() == reflect.Slice {
			if err := setValue(structField, &fieldValue, ""); err != nil {
				return err
			}
		}
	}

	return nil
}

func isSet(structField reflect.StructField, field *reflect.Value) bool {
	if structField.Type.Kind() == reflect.Ptr && structField.Type.String() == "*bool" && !field.IsNil() {
		return true
	}
	if structField.Type.Kind() != reflect.Ptr && structField.Type.Kind() != reflect.Slice && !field.IsZero() {
		return true
	}
	return false
}

func setValue(structField reflect.StructField, field *reflect.Value, value string) error {
	switch structField.Type.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err := strconv.ParseInt(value, 10, int(structField.Type.Size()*8))
		if err != nil {
			return err
		}
		field.SetInt(v)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v, err := strconv.ParseUint(value, 10, int(structField.Type.Size()*8))
		if err != nil {
			return err
		}
		field.SetUint(v)
	case reflect.Float32, reflect.Float64:
		v, err := strconv.ParseFloat(value, int(structField.Type.Size()*8))
		if err != nil {
			return err
		}
		field.SetFloat(v)
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		field.SetBool(strings.ToLower(value) == "true")
	case reflect.Ptr:
		if structField.Type.String() == "*bool" {
			field.Set(reflect.ValueOf(structs.Ref(strings.ToLower(value) == "true")))
			return nil
		}
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return Parse(field.Interface())
	case reflect.Slice:
		for i := 0; i < field.Len(); i++ {
			if err := Parse(field.Index(i).Interface()); err != nil {
				return err
			}
		}
	}
	return nil
}
