package syncx

import (
	"reflect"
	"testing"
)

func TestParseSince(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   int64
		wantOK bool
	}{
		{name: "empty means epoch", in: "", want: 0, wantOK: true},
		{name: "zero", in: "0", want: 0, wantOK: true},
		{name: "positive", in: "1234567", want: 1234567, wantOK: true},
		{name: "negative rejected", in: "-1", wantOK: false},
		{name: "not a number", in: "abc", wantOK: false},
		{name: "float rejected", in: "1.5", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSince(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ParseSince(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ParseSince(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseEntityTypes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "single", in: "invoice", want: []string{"invoice"}},
		{name: "multiple", in: "invoice,expense", want: []string{"invoice", "expense"}},
		{name: "spaces trimmed", in: " invoice , vendor ", want: []string{"invoice", "vendor"}},
		{name: "only commas", in: ",,", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseEntityTypes(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseEntityTypes(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRFC3339Roundtrip(t *testing.T) {
	ms := int64(1730628000000)
	s := RFC3339(ms)
	if s == "" {
		t.Fatal("empty timestamp")
	}
	if s[len(s)-1] != 'Z' {
		t.Errorf("expected UTC timestamp, got %s", s)
	}
}
