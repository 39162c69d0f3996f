// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateKeepsRunesIntact(t *testing.T) {
	tests := []struct {
		name string
		s    string
		n    int
		want string
	}{
		{"short ascii", "Attention Is All You Need", 60, "Attention Is All You Need"},
		{"long ascii", "Deep Residual Learning for Image Recognition", 20, "Deep Residual Lea..."},
		{"multi-byte cut", strings.Repeat("Schrödinger ", 10), 15, "Schrödinger " + "Sch..."},
		{"exact fit", "Schrödinger", 11, "Schrödinger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.s, tt.n)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.s, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.s, tt.n)
			}
		})
	}
}
