package interpolation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// TagName marks fields that take part in interpolation: `env_interpolation:"yes"`.
const TagName = "env_interpolation"

// InterpolateStruct expands tagged string, []string and map[string]string
// fields of the struct v points to, in place. Nested structs and slices of
// structs are walked whether or not they are tagged.
func InterpolateStruct(v any, lookup LookupFunc) error {
	if v == nil {
		return nil
	}
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr {
		return fmt.Errorf("expected pointer to struct, got %T", v)
	}
	if val.IsNil() {
		return nil
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("expected pointer to struct, got %T", v)
	}
	return walk(val, lookup)
}

func walk(val reflect.Value, lookup LookupFunc) error {
	typ := val.Type()
	var errs []error

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		ft := typ.Field(i)
		if !field.CanSet() {
			continue
		}
		tagged := strings.EqualFold(ft.Tag.Get(TagName), "yes")

		switch field.Kind() {
		case reflect.String:
			if !tagged || field.String() == "" {
				continue
			}
			out, err := ExpandWith(field.String(), lookup)
			if err != nil {
				errs = append(errs, fmt.Errorf("field %s: %w", ft.Name, err))
				continue
			}
			field.SetString(out)

		case reflect.Map:
			if !tagged || field.IsNil() ||
				field.Type().Key().Kind() != reflect.String ||
				field.Type().Elem().Kind() != reflect.String {
				continue
			}
			for _, key := range field.MapKeys() {
				out, err := ExpandWith(field.MapIndex(key).String(), lookup)
				if err != nil {
					errs = append(errs, fmt.Errorf("field %s[%s]: %w", ft.Name, key.String(), err))
					continue
				}
				field.SetMapIndex(key, reflect.ValueOf(out))
			}

		case reflect.Slice:
			switch field.Type().Elem().Kind() {
			case reflect.String:
				if !tagged {
					continue
				}
				for j := 0; j < field.Len(); j++ {
					elem := field.Index(j)
					out, err := ExpandWith(elem.String(), lookup)
					if err != nil {
						errs = append(errs, fmt.Errorf("field %s[%d]: %w", ft.Name, j, err))
						continue
					}
					elem.SetString(out)
				}
			case reflect.Struct:
				for j := 0; j < field.Len(); j++ {
					if err := walk(field.Index(j), lookup); err != nil {
						errs = append(errs, fmt.Errorf("field %s[%d]: %w", ft.Name, j, err))
					}
				}
			}

		case reflect.Struct:
			if err := walk(field, lookup); err != nil {
				errs = append(errs, fmt.Errorf("field %s: %w", ft.Name, err))
			}
		}
	}

	return errors.Join(errs...)
}
