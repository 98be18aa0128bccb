package diff

import (
	"reflect"
	"strings"

	"cv-adapter/resume/model"
)

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	return name
}

// compareFields reports a modification for every json field that differs between src and adapted,
// skipping the names in skip. Fields that compare equal are reset to the source value on *adapted so
// that rejecting every change restores the source exactly.
func compareFields[T any](src T, adapted *T, skip map[string]bool) []model.Modification {
	sv := reflect.ValueOf(src)
	av := reflect.ValueOf(adapted).Elem()
	var mods []model.Modification
	for i := 0; i < sv.NumField(); i++ {
		name := jsonName(sv.Type().Field(i))
		if name == "" || name == "-" {
			continue
		}
		if skip[name] {
			av.Field(i).Set(sv.Field(i))
			continue
		}
		if sameValue(sv.Field(i), av.Field(i)) {
			av.Field(i).Set(sv.Field(i))
			continue
		}
		mods = append(mods, model.Modification{Field: name, Action: model.ActionAdjusted})
	}
	return mods
}

func sameValue(a, b reflect.Value) bool {
	if a.Kind() == reflect.Slice && b.Kind() == reflect.Slice && a.Len() == 0 && b.Len() == 0 {
		return true
	}
	if a.Kind() == reflect.String {
		return strings.TrimSpace(a.String()) == strings.TrimSpace(b.String())
	}
	return reflect.DeepEqual(a.Interface(), b.Interface())
}

var (
	experienceImmutable = map[string]bool{"title": true, "company": true, "location": true, "type": true, "start_date": true, "end_date": true}
	projectImmutable    = map[string]bool{"name": true, "role": true, "start_date": true, "end_date": true}
	languageImmutable   = map[string]bool{"name": true}
	extraImmutable      = map[string]bool{"name": true}
	summaryImmutable    = map[string]bool{"years_experience": true}
)
