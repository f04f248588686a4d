package memory

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestDecodeLegacyFieldNames(t *testing.T) {
	t.Parallel()
	legacy := `{
    "known_courses": {"CSA0701": 12},
    "release_hours": [9, 10],
    "failures": ["Message: timeout"]
}`
	r, err := Decode([]byte(legacy))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Record{
		KnownItems:   map[string]int{"CSA0701": 12},
		ReleaseHours: []int{9, 10},
		FailureLog:   []string{"Message: timeout"},
	}
	if !reflect.DeepEqual(r, want) {
		t.Fatalf("Decode() = %+v, want %+v", r, want)
	}

	// Re-encoding writes the current field names only.
	b, err := Encode(r)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"known_items"`) || strings.Contains(s, "known_courses") || strings.Contains(s, `"failures"`) {
		t.Fatalf("unexpected encoding:\n%s", s)
	}
}

func TestDecodeOnlySeatCounts(t *testing.T) {
	t.Parallel()
	// The one-shot script only stored known_courses.
	r, err := Decode([]byte(`{"known_courses": {"ECA4701": 3}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if r.KnownItems["ECA4701"] != 3 || r.ReleaseHours == nil || r.FailureLog == nil {
		t.Fatalf("unexpected record %+v", r)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	t.Parallel()
	for _, body := range []string{"", "null", "{", `{"known_items": {"A": -1}}`, `{"release_hours": [24]}`, `{"known_items": []}`} {
		if _, err := Decode([]byte(body)); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("Decode(%q) err = %v, want ErrCorrupt", body, err)
		}
	}
}

func TestEncodeEmptyUsesEmptyCollections(t *testing.T) {
	t.Parallel()
	b, err := Encode(Record{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := "{\n    \"known_items\": {},\n    \"release_hours\": [],\n    \"failure_log\": []\n}\n"
	if string(b) != want {
		t.Fatalf("Encode(Record{}) =\n%s\nwant\n%s", b, want)
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	r := Record{KnownItems: map[string]int{"A": 1}, ReleaseHours: []int{1}, FailureLog: []string{"x"}}
	c := r.Clone()
	c.KnownItems["A"] = 2
	c.ReleaseHours[0] = 5
	c.FailureLog[0] = "y"
	if r.KnownItems["A"] != 1 || r.ReleaseHours[0] != 1 || r.FailureLog[0] != "x" {
		t.Fatalf("clone shares state with original: %+v", r)
	}
}
