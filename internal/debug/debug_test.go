package debug

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func withLevel(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Init(lvl)
	SetOutput(&buf)
	t.Cleanup(func() { Init(LevelOff) })
	return &buf
}

func TestIsEnabled(t *testing.T) {
	withLevel(t, LevelLive)

	cases := []struct {
		min  int
		want bool
	}{
		{LevelInfo, true},
		{LevelLive, true},
		{LevelVerbose, false},
		{LevelTrace, false},
	}
	for _, tc := range cases {
		if got := IsEnabled(tc.min); got != tc.want {
			t.Errorf("IsEnabled(%d) = %v, want %v", tc.min, got, tc.want)
		}
	}
}

func TestPrintStruct_OnlyAtVerbose(t *testing.T) {
	buf := withLevel(t, LevelLive)
	PrintStruct("Photo settings", struct{ ID int }{7})
	if buf.Len() != 0 {
		t.Errorf("PrintStruct at live level wrote %q", buf.String())
	}

	buf = withLevel(t, LevelVerbose)
	PrintStruct("Photo settings", struct{ ID int }{7})
	if !strings.Contains(buf.String(), "[VERBOSE] Photo settings: {ID:7}") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestError_Tagged(t *testing.T) {
	buf := withLevel(t, LevelInfo)
	Error(errors.New("capture produced no photo data"))
	if !strings.HasPrefix(buf.String(), "[MoonEnhancer] ") || !strings.Contains(buf.String(), "[ERROR] capture produced no photo data") {
		t.Errorf("output = %q", buf.String())
	}
}
