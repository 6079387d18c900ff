package httpapi

import "testing"

func TestNormalizeBasePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"carspot", "/carspot"},
		{"/carspot", "/carspot"},
		{"/carspot/", "/carspot"},
		{" /carspot// ", "/carspot"},
	}
	for _, tc := range cases {
		if got := normalizeBasePath(tc.in); got != tc.want {
			t.Fatalf("normalizeBasePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestJoinBasePath(t *testing.T) {
	cases := []struct {
		basePath string
		path     string
		want     string
	}{
		{"", "/api/captures/s1", "/api/captures/s1"},
		{"carspot", "/api/captures/s1", "/carspot/api/captures/s1"},
		{"/carspot/", "api/cards", "/carspot/api/cards"},
	}
	for _, tc := range cases {
		if got := joinBasePath(tc.basePath, tc.path); got != tc.want {
			t.Fatalf("joinBasePath(%q, %q) = %q, want %q", tc.basePath, tc.path, got, tc.want)
		}
	}
}
