package config

import (
	"reflect"
	"regexp"
	"sort"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LookupFunc resolves one variable; os.LookupEnv fits.
type LookupFunc func(name string) (string, bool)

// ExpandEnv replaces ${NAME} in every string field of cfg. It returns the
// sorted names that lookup could not resolve; those expand to "".
func ExpandEnv(cfg *Config, lookup LookupFunc) []string {
	missing := map[string]struct{}{}
	expandValue(reflect.ValueOf(cfg).Elem(), func(s string) string {
		return envRef.ReplaceAllStringFunc(s, func(ref string) string {
			name := envRef.FindStringSubmatch(ref)[1]
			v, ok := lookup(name)
			if !ok {
				missing[name] = struct{}{}
			}
			return v
		})
	})
	out := make([]string, 0, len(missing))
	for n := range missing {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func expandValue(v reflect.Value, fn func(string) string) {
	switch v.Kind() {
	case reflect.String:
		if v.CanSet() {
			v.SetString(fn(v.String()))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i), fn)
		}
	case reflect.Pointer:
		if !v.IsNil() {
			expandValue(v.Elem(), fn)
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i), fn)
		}
	}
}
