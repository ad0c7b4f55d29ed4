package main

import (
	"slices"
	"testing"
)

func TestServiceArgs(t *testing.T) {
	tcs := []struct {
		args     []string
		expected []string
	}{
		{[]string{"-config", "x", "-service", "install"}, []string{"-config", "x"}},
		{[]string{"--service=start", "-addr", ":564"}, []string{"-addr", ":564"}},
		{[]string{"-config", "x"}, []string{"-config", "x"}},
		{nil, nil},
	}
	for _, tc := range tcs {
		if got := serviceArgs(tc.args); !slices.Equal(got, tc.expected) {
			t.Errorf("serviceArgs(%v): expected %v, got %v", tc.args, tc.expected, got)
		}
	}
}
