package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{" error ", ErrorLevel},
		{"fatal", FatalLevel},
		{"bogus", InfoLevel},
		{"", InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestComponentSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	root := New(&Config{Level: "debug", Output: &buf})

	root.Component("swap-driver").Info("cycle done", "swaps", 3)

	out := buf.String()
	if !strings.Contains(out, "swap-driver") {
		t.Errorf("output missing component prefix: %q", out)
	}
	if !strings.Contains(out, "swaps=3") {
		t.Errorf("output missing key-value pair: %q", out)
	}
}

func TestComponentInheritsLevel(t *testing.T) {
	var buf bytes.Buffer
	root := New(&Config{Level: "error", Output: &buf})

	root.Component("rpc").Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info line written at error level: %q", buf.String())
	}
}
