package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	durationType    = reflect.TypeOf(Duration(0))
	stdDurationType = reflect.TypeOf(time.Duration(0))
	secretRefType   = reflect.TypeOf(SecretRef{})
)

// ApplyDefaults sets every field that has a `default:"..."` tag, recursing
// into nested structs.
func ApplyDefaults(cfg any) error {
	return walkTags(cfg, "default", func(field reflect.StructField, v reflect.Value, raw string) error {
		return setFromString(v, raw)
	})
}

// ApplyEnv overrides fields tagged `env:"NAME"` when NAME is set and not
// empty. A SecretRef field becomes a reference to the variable, so the
// secret value itself is never copied into the config.
func ApplyEnv(cfg any, lookup func(string) (string, bool)) error {
	return walkTags(cfg, "env", func(field reflect.StructField, v reflect.Value, name string) error {
		val, ok := lookup(name)
		if !ok || val == "" {
			return nil
		}
		if field.Type == secretRefType {
			v.Set(reflect.ValueOf(SecretRef{EnvVar: name}))
			return nil
		}
		if err := setFromString(v, val); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

func walkTags(cfg any, tag string, fn func(reflect.StructField, reflect.Value, string) error) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("expected pointer to struct, got %T", cfg)
	}
	return walkStruct(v.Elem(), tag, fn)
}

func walkStruct(v reflect.Value, tag string, fn func(reflect.StructField, reflect.Value, string) error) error {
	var errs []error
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fieldVal := v.Field(i)

		if value, ok := field.Tag.Lookup(tag); ok && value != "" {
			if err := fn(field, fieldVal, value); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", field.Name, err))
			}
			continue
		}
		if field.Type.Kind() == reflect.Struct && field.Type != secretRefType {
			if err := walkStruct(fieldVal, tag, fn); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func setFromString(v reflect.Value, raw string) error {
	// Durations have Kind int64 but need their own parsing.
	switch v.Type() {
	case durationType, stdDurationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		v.SetInt(int64(d))
		return nil
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		v.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", v.Type())
		}
		var parts []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		v.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field type %s", v.Type())
	}
	return nil
}
