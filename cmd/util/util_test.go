package util

import (
	"reflect"
	"testing"
)

func TestParseEventloops(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want map[string][]string
	}{
		{
			// The flag help's own example: names carry '=' themselves.
			name: "NamesContainingEquals",
			spec: "region:pid=1=10.0.0.1:5250,region:pid=2=10.0.0.1:5251",
			want: map[string][]string{
				"region:pid=1": {"10.0.0.1:5250"},
				"region:pid=2": {"10.0.0.1:5251"},
			},
		},
		{
			name: "RepeatedNameAddsAddress",
			spec: "region:pid=1=10.0.0.1:5250,region:pid=1=10.0.0.2:5250",
			want: map[string][]string{
				"region:pid=1": {"10.0.0.1:5250", "10.0.0.2:5250"},
			},
		},
		{
			name: "PlainName",
			spec: "loop-a=127.0.0.1:5240",
			want: map[string][]string{"loop-a": {"127.0.0.1:5240"}},
		},
		{
			name: "WhitespaceAndEmptyEntries",
			spec: " loop-a=127.0.0.1:5240 , ,loop-b=127.0.0.1:5241",
			want: map[string][]string{
				"loop-a": {"127.0.0.1:5240"},
				"loop-b": {"127.0.0.1:5241"},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseEventloops(tc.spec)
			if err != nil {
				t.Fatalf("ParseEventloops(%q) failed: %v", tc.spec, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ParseEventloops(%q) = %v, want %v", tc.spec, got, tc.want)
			}
		})
	}
}

func TestParseEventloopsInvalid(t *testing.T) {
	for _, spec := range []string{
		"",
		"   ",
		"no-separator",
		"=10.0.0.1:5250",
		"loop-a=",
		"loop-a=10.0.0.1:5250,broken",
	} {
		if _, err := ParseEventloops(spec); err == nil {
			t.Errorf("ParseEventloops(%q) succeeded, want error", spec)
		}
	}
}
