package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"OFF", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("AVATARSTUDY_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("AVATARSTUDY_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("AVATARSTUDY_TEST_INT", " 5 ")
	if got := ParseIntEnv("AVATARSTUDY_TEST_INT", 1); got != 5 {
		t.Errorf("ParseIntEnv() = %d, want 5", got)
	}
	t.Setenv("AVATARSTUDY_TEST_INT", "five")
	if got := ParseIntEnv("AVATARSTUDY_TEST_INT", 1); got != 1 {
		t.Errorf("ParseIntEnv() = %d, want default 1", got)
	}
}
