package util

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestGenerateRandomString(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		charset string
		want    int
	}{
		{"zero length", 0, "abc", 0},
		{"negative length", -1, "abc", 0},
		{"empty charset", 5, "", 0},
		{"normal", 12, "xyz", 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomString(tt.length, tt.charset)
			if len(got) != tt.want {
				t.Errorf("GenerateRandomString() length = %v, want %v", len(got), tt.want)
			}
			for _, c := range got {
				if !strings.ContainsRune(tt.charset, c) {
					t.Errorf("GenerateRandomString() produced %q outside charset", c)
				}
			}
		})
	}
}

func TestGenerateUserID(t *testing.T) {
	now := time.UnixMilli(1717171717171)
	id := GenerateUserID(now)
	prefix := strconv.FormatInt(now.UnixMilli(), 36)
	if !strings.HasPrefix(id, prefix) {
		t.Errorf("GenerateUserID() = %v, want prefix %v", id, prefix)
	}
	if len(id) != len(prefix)+userIDSuffixLength {
		t.Errorf("GenerateUserID() length = %d, want %d", len(id), len(prefix)+userIDSuffixLength)
	}
	if GenerateUserID(now) == id && GenerateUserID(now) == id {
		t.Error("GenerateUserID() should vary between calls")
	}
}

func TestGenerateCompletionCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := GenerateCompletionCode()
		if len(code) != CompletionCodeLength {
			t.Fatalf("GenerateCompletionCode() length = %d", len(code))
		}
		for _, c := range code {
			if !strings.ContainsRune(completionChars, c) {
				t.Fatalf("GenerateCompletionCode() produced %q", c)
			}
		}
	}
}
