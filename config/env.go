package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix starts every environment variable the loader reads.
const EnvPrefix = "LEVELBOT_"

// fileSuffix marks a variable holding a path whose contents are the value,
// e.g. LEVELBOT_WEBHOOK_SECRET_FILE=/run/secrets/hook.
const fileSuffix = "_FILE"

var durationType = reflect.TypeOf(time.Duration(0))

// envLoader applies env-tagged fields from a lookup function and records
// which variables it used.
type envLoader struct {
	lookup   func(string) (string, bool)
	readFile func(string) ([]byte, error)
	applied  []string
}

// loadFromEnv overrides cfg from the process environment and returns the
// names of the variables applied.
func loadFromEnv(cfg *Config) ([]string, error) {
	l := &envLoader{lookup: os.LookupEnv, readFile: os.ReadFile}
	if err := l.load(reflect.ValueOf(cfg)); err != nil {
		return nil, err
	}
	return l.applied, nil
}

func (l *envLoader) load(v reflect.Value) error {
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("expected pointer to struct, got %s", v.Kind())
	}
	v = v.Elem()
	typ := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := typ.Field(i)
		if !fieldType.IsExported() {
			continue
		}

		// Nested sections (redis.Config, LevelingConfig...) carry their own tags
		if field.Kind() == reflect.Struct {
			if err := l.load(field.Addr()); err != nil {
				return err
			}
			continue
		}

		name := fieldType.Tag.Get("env")
		if name == "" {
			continue
		}
		if !strings.HasPrefix(name, EnvPrefix) {
			return fmt.Errorf("field %s: env var %s lacks the %s prefix", fieldType.Name, name, EnvPrefix)
		}

		value, source, ok, err := l.value(name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("failed to set field %s from env var %s: %w", fieldType.Name, source, err)
		}
		l.applied = append(l.applied, source)
	}
	return nil
}

// value resolves name directly, then through name_FILE. Empty values are
// treated as unset.
func (l *envLoader) value(name string) (value, source string, ok bool, err error) {
	if v, found := l.lookup(name); found && v != "" {
		return v, name, true, nil
	}
	path, found := l.lookup(name + fileSuffix)
	if !found || path == "" {
		return "", "", false, nil
	}
	b, err := l.readFile(path)
	if err != nil {
		return "", "", false, fmt.Errorf("read %s%s: %w", name, fileSuffix, err)
	}
	return strings.TrimRight(string(b), "\r\n"), name + fileSuffix, true, nil
}

// setFieldValue parses value into field according to its type.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field is not settable")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %s", value)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value: %s", value)
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer value: %s", value)
		}
		field.SetInt(n)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float value: %s", value)
		}
		field.SetFloat(f)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		// Comma-separated; blank entries such as a trailing comma are skipped
		parts := splitList(value)
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, part := range parts {
			slice.Index(i).SetString(part)
		}
		field.Set(slice)

	case reflect.Map:
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported map type: %s", field.Type())
		}
		// key=value,key2=value2
		m := reflect.MakeMap(field.Type())
		for _, pair := range splitList(value) {
			k, v, found := strings.Cut(pair, "=")
			if !found || strings.TrimSpace(k) == "" {
				return fmt.Errorf("invalid map entry format: %s", pair)
			}
			m.SetMapIndex(reflect.ValueOf(strings.TrimSpace(k)), reflect.ValueOf(strings.TrimSpace(v)))
		}
		field.Set(m)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
