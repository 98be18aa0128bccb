package merge

import (
	"reflect"
	"strings"
)

// copyField copies the struct field whose json name is field from src into dst.
// Unknown fields are ignored.
func copyField[T any](dst *T, src T, field string) bool {
	dv := reflect.ValueOf(dst).Elem()
	sv := reflect.ValueOf(src)
	if dv.Kind() != reflect.Struct {
		return false
	}
	idx, ok := fieldIndex(dv.Type(), field)
	if !ok {
		return false
	}
	dv.Field(idx).Set(sv.Field(idx))
	return true
}

func fieldIndex(t reflect.Type, name string) (int, bool) {
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" {
			continue
		}
		if jsonName, _, _ := strings.Cut(tag, ","); jsonName == name {
			return i, true
		}
	}
	return 0, false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
