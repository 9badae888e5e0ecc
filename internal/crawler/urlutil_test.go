package crawler

import "testing"

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://Example.COM/Docs/", "https://example.com/Docs"},
		{"https://example.com/docs?page=2#section", "https://example.com/docs?page=2"},
		{"https://example.com/docs#section", "https://example.com/docs"},
		{"https://example.com/", "https://example.com"},
		{"  https://example.com/a/b/  ", "https://example.com/a/b"},
	}
	for _, tc := range cases {
		got, err := NormalizeURL(tc.in)
		if err != nil {
			t.Fatalf("NormalizeURL(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeURLRejectsNonHTTP(t *testing.T) {
	for _, raw := range []string{"ftp://example.com/file", "mailto:hi@example.com", "javascript:void(0)", "/relative/only"} {
		if _, err := NormalizeURL(raw); err == nil {
			t.Errorf("NormalizeURL(%q) accepted, want error", raw)
		}
	}
}

func TestSameHost(t *testing.T) {
	if !SameHost("https://example.com/a", "https://EXAMPLE.com/b") {
		t.Error("case-insensitive host match failed")
	}
	if SameHost("https://example.com/a", "https://docs.example.com/a") {
		t.Error("subdomain treated as same host")
	}
}
