package fieldpath

import (
	"reflect"
	"testing"
)

func TestResolve(t *testing.T) {
	testCases := []struct {
		description string
		record      map[string]interface{}
		path        string
		want        interface{}
		shouldBeOK  bool
	}{
		{
			description: "nested key",
			record:      map[string]interface{}{"a": map[string]interface{}{"b": 5}},
			path:        "a.b",
			want:        5,
			shouldBeOK:  true,
		},
		{
			description: "missing leaf",
			record:      map[string]interface{}{"a": map[string]interface{}{"b": 5}},
			path:        "a.c",
			shouldBeOK:  false,
		},
		{
			// Can't traverse into a scalar
			description: "scalar in the middle of the path",
			record:      map[string]interface{}{"a": 5},
			path:        "a.b",
			shouldBeOK:  false,
		},
		{
			description: "top-level key",
			record:      map[string]interface{}{"message": "hello"},
			path:        "message",
			want:        "hello",
			shouldBeOK:  true,
		},
		{
			description: "interface-keyed map",
			record: map[string]interface{}{
				"a": map[interface{}]interface{}{"b": "c"},
			},
			path:       "a.b",
			want:       "c",
			shouldBeOK: true,
		},
		{
			description: "explicit nil is absent",
			record:      map[string]interface{}{"a": nil},
			path:        "a",
			shouldBeOK:  false,
		},
		{
			description: "empty path",
			record:      map[string]interface{}{"": "x"},
			path:        "",
			shouldBeOK:  false,
		},
		{
			description: "nil record",
			record:      nil,
			path:        "a",
			shouldBeOK:  false,
		},
		{
			description: "mapping as the result",
			record: map[string]interface{}{
				"a": map[string]interface{}{"b": map[string]interface{}{"c": 1}},
			},
			path:       "a.b",
			want:       map[string]interface{}{"c": 1},
			shouldBeOK: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			got, ok := Resolve(tc.record, tc.path)
			if ok != tc.shouldBeOK {
				t.Fatalf("wanted ok = %v but got %v (value %v)", tc.shouldBeOK, ok, got)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("wanted %#v but got %#v", tc.want, got)
			}
		})
	}
}

func TestResolveDoesNotMutate(t *testing.T) {
	r := map[string]interface{}{"a": map[string]interface{}{"b": 5}}
	Resolve(r, "a.b.c")
	Resolve(r, "x.y")

	want := map[string]interface{}{"a": map[string]interface{}{"b": 5}}
	if !reflect.DeepEqual(r, want) {
		t.Errorf("record changed during resolution: %v", r)
	}
}

func TestString(t *testing.T) {
	testCases := []struct {
		description string
		input       interface{}
		want        string
	}{
		{description: "string", input: "abc", want: "abc"},
		{description: "bytes", input: []byte("abc"), want: "abc"},
		{description: "int64", input: int64(-42), want: "-42"},
		{description: "uint8", input: uint8(7), want: "7"},
		{description: "whole float", input: float64(3), want: "3"},
		{description: "fractional float", input: 1.25, want: "1.25"},
		{description: "bool", input: true, want: "true"},
		{
			description: "nested map",
			input:       map[string]interface{}{"b": 1, "a": "x"},
			want:        `{"a":"x","b":1}`,
		},
		{
			description: "interface-keyed map",
			input:       map[interface{}]interface{}{"a": 1},
			want:        `{"a":1}`,
		},
		{description: "slice", input: []interface{}{"a", 1}, want: `["a",1]`},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			if got := String(tc.input); got != tc.want {
				t.Errorf("wanted %q but got %q", tc.want, got)
			}
		})
	}
}

func TestFloat(t *testing.T) {
	testCases := []struct {
		description   string
		input         interface{}
		want          float64
		shouldBeError bool
	}{
		{description: "float64", input: 1.5, want: 1.5},
		{description: "int64", input: int64(10), want: 10},
		{description: "uint16", input: uint16(10), want: 10},
		{description: "numeric string", input: " 12.5 ", want: 12.5},
		{description: "non-numeric string", input: "soon", shouldBeError: true},
		{description: "mapping", input: map[string]interface{}{}, shouldBeError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			got, err := Float(tc.input)
			if (err != nil) != tc.shouldBeError {
				t.Fatalf("wanted error status %v but got %v with error %v", tc.shouldBeError, err != nil, err)
			}
			if got != tc.want {
				t.Errorf("wanted %v but got %v", tc.want, got)
			}
		})
	}
}
