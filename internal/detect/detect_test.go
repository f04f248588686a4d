package detect

import (
	"reflect"
	"strings"
	"testing"
)

func TestDetect(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		previous map[string]int
		current  Snapshot
		want     Decision
	}{
		{
			name:     "new items in observation order",
			previous: map[string]int{},
			current:  NewSnapshot(Item{"A", 10}, Item{"B", 5}),
			want:     Decision{NewCodes: []string{"A", "B"}},
		},
		{
			name:     "quantity change",
			previous: map[string]int{"A": 10},
			current:  NewSnapshot(Item{"A", 7}),
			want:     Decision{QuantityChanges: []Change{{"A", 7}}},
		},
		{
			name:     "disappearance is silent",
			previous: map[string]int{"A": 10, "B": 5},
			current:  NewSnapshot(Item{"A", 10}),
			want:     Decision{},
		},
		{
			name:     "mixed keeps detection order",
			previous: map[string]int{"B": 1, "D": 4},
			current:  NewSnapshot(Item{"C", 2}, Item{"B", 0}, Item{"A", 9}, Item{"D", 4}),
			want: Decision{
				NewCodes:        []string{"C", "A"},
				QuantityChanges: []Change{{"B", 0}},
			},
		},
		{
			name:     "nil previous",
			previous: nil,
			current:  NewSnapshot(Item{"X1", 3}),
			want:     Decision{NewCodes: []string{"X1"}},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Detect(tt.previous, tt.current)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Detect() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDetectIdempotent(t *testing.T) {
	t.Parallel()
	snaps := []Snapshot{
		{},
		NewSnapshot(Item{"A", 1}),
		NewSnapshot(Item{"CSA0701", 0}, Item{"CSA0702", 60}, Item{"CSA0703", 12}),
	}
	for _, s := range snaps {
		if d := Detect(s.Map(), s); !d.Empty() {
			t.Fatalf("Detect(S, S) = %+v, want empty", d)
		}
	}
}

func TestDetectDoesNotMutate(t *testing.T) {
	t.Parallel()
	prev := map[string]int{"A": 1}
	cur := NewSnapshot(Item{"A", 2}, Item{"B", 3})
	_ = Detect(prev, cur)
	if !reflect.DeepEqual(prev, map[string]int{"A": 1}) {
		t.Fatalf("previous mutated: %v", prev)
	}
	if cur.Len() != 2 {
		t.Fatalf("current mutated: %v", cur.Items())
	}
}

func TestSnapshotSetKeepsFirstPosition(t *testing.T) {
	t.Parallel()
	var s Snapshot
	s.Set("B", 1)
	s.Set("A", 2)
	s.Set("B", 5)
	s.Set("", 3)
	s.Set("C", -1)
	want := []Item{{"B", 5}, {"A", 2}}
	if got := s.Items(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Items() = %v, want %v", got, want)
	}
}

func TestDecisionMessage(t *testing.T) {
	t.Parallel()
	d := Decision{
		NewCodes:        []string{"CSA0701", "CSA0702"},
		QuantityChanges: []Change{{"CSA0655", 4}, {"CSA0610", 0}},
	}
	want := "🚨 NEW COURSE RELEASED:\nCSA0701, CSA0702\n\n🔄 Seat Update: CSA0655 → 4\n\n🔄 Seat Update: CSA0610 → 0"
	if got := d.Message(); got != want {
		t.Fatalf("Message() =\n%q\nwant\n%q", got, want)
	}

	only := Decision{QuantityChanges: []Change{{"X1", 1}}}.Message()
	if strings.Contains(only, "NEW COURSE") || !strings.Contains(only, "X1") || !strings.Contains(only, "1") {
		t.Fatalf("unexpected update-only message %q", only)
	}

	if got := (Decision{}).Message(); got != "" {
		t.Fatalf("empty decision message = %q", got)
	}
}
