package binder

import (
	"fmt"
	"net/http"
	"reflect"
)

// Path creates a binder that fills `path:"name"` fields using extractor, typically
// chi.URLParam. Fields without a tag use their lowercased name; `path:"-"` skips a field.
// Empty parameters leave the field untouched.
func Path(extractor func(r *http.Request, name string) string) func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		if extractor == nil {
			return fmt.Errorf("%w: extractor function is nil", ErrInvalidPath)
		}

		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Ptr || rv.IsNil() {
			return fmt.Errorf("%w: target must be a non-nil pointer", ErrInvalidPath)
		}
		rv = rv.Elem()
		if rv.Kind() != reflect.Struct {
			return fmt.Errorf("%w: target must be a pointer to struct", ErrInvalidPath)
		}

		rt := rv.Type()
		for i := range rv.NumField() {
			field, fieldType := rv.Field(i), rt.Field(i)
			if !field.CanSet() {
				continue
			}
			name, skip := parseFieldTag(fieldType, "path")
			if skip {
				continue
			}
			value := extractor(r, name)
			if value == "" {
				continue
			}
			if err := setFieldValue(field, fieldType.Type, value); err != nil {
				return fmt.Errorf("%w: field %s: %v", ErrInvalidPath, fieldType.Name, err)
			}
		}
		return nil
	}
}
