package crawler

import "testing"

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Tower.CO.NZ/Policies",
			want: "https://tower.co.nz/Policies",
		},
		{
			name: "strips fragment",
			in:   "https://example.com/page#section-2",
			want: "https://example.com/page",
		},
		{
			name: "strips trailing slash",
			in:   "https://example.com/policies/",
			want: "https://example.com/policies",
		},
		{
			name: "root keeps slash",
			in:   "https://example.com/",
			want: "https://example.com/",
		},
		{
			name: "bare host gains root slash",
			in:   "https://example.com",
			want: "https://example.com/",
		},
		{
			name: "drops tracking params and sorts the rest",
			in:   "https://example.com/d?utm_source=news&b=2&a=1&fbclid=xyz",
			want: "https://example.com/d?a=1&b=2",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeURL(tc.in, nil)
			if got != tc.want {
				t.Fatalf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	urls := []string{
		"HTTPS://Example.COM/a/b/?z=9&a=1&utm_medium=email#frag",
		"https://tower.co.nz/download.pdf?gclid=123",
		"https://example.com",
	}
	for _, u := range urls {
		once := NormalizeURL(u, []string{"session"})
		twice := NormalizeURL(once, []string{"session"})
		if once != twice {
			t.Fatalf("not idempotent: %q -> %q -> %q", u, once, twice)
		}
	}
}

func TestNormalizeURLExtraTracking(t *testing.T) {
	got := NormalizeURL("https://example.com/p?ref=abc&q=1", []string{"ref"})
	if got != "https://example.com/p?q=1" {
		t.Fatalf("extra tracking param not stripped: %q", got)
	}
}

func TestRegistrableDomain(t *testing.T) {
	cases := []struct {
		host string
		want string
	}{
		{"www.tower.co.nz", "tower.co.nz"},
		{"documents.tower.co.nz", "tower.co.nz"},
		{"tower.co.nz", "tower.co.nz"},
		{"www.example.com", "example.com"},
		{"cdn.assets.example.com", "example.com"},
		{"example.com:8443", "example.com"},
		{"localhost", "localhost"},
	}
	for _, tc := range cases {
		if got := RegistrableDomain(tc.host); got != tc.want {
			t.Fatalf("RegistrableDomain(%q) = %q, want %q", tc.host, got, tc.want)
		}
	}
}

func TestSameDomain(t *testing.T) {
	if !SameDomain("https://www.tower.co.nz/a", "https://documents.tower.co.nz/b") {
		t.Fatal("subdomains of the same registrable domain should match")
	}
	if SameDomain("https://tower.co.nz/a", "https://state.co.nz/b") {
		t.Fatal("different .co.nz organizations must not match")
	}
}

func TestIsPDFURL(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://example.com/pds.pdf", true},
		{"https://example.com/pds.PDF", true},
		{"https://example.com/file.pdf/view", true},
		{"https://example.com/get?file=motor.pdf", true},
		{"https://example.com/policies", false},
		{"https://example.com/pdfviewer", false},
	}
	for _, tc := range cases {
		if got := IsPDFURL(tc.url); got != tc.want {
			t.Fatalf("IsPDFURL(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestIsPotentialDocumentURL(t *testing.T) {
	if !IsPotentialDocumentURL("https://example.com/media/12345", "") {
		t.Fatal("media path should be probe-worthy")
	}
	if !IsPotentialDocumentURL("https://example.com/view/9", "Download PDF") {
		t.Fatal("document-like anchor text should be probe-worthy")
	}
	if IsPotentialDocumentURL("https://example.com/about", "About us") {
		t.Fatal("plain navigation link should not be probe-worthy")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"motor-pds.pdf", "motor-pds.pdf"},
		{"../../etc/passwd", "____etc_passwd"},
		{"my policy (final).pdf", "mypolicyfinal.pdf"},
		{"", "unknown"},
	}
	for _, tc := range cases {
		if got := SanitizeFilename(tc.in); got != tc.want {
			t.Fatalf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFilenameFromURL(t *testing.T) {
	if got := FilenameFromURL("https://example.com/docs/home-pds.pdf?v=2"); got != "home-pds.pdf" {
		t.Fatalf("got %q", got)
	}
	if got := FilenameFromURL("https://example.com/download/4711"); got != "4711.pdf" {
		t.Fatalf("extensionless name should gain .pdf, got %q", got)
	}
	if got := FilenameFromURL("https://example.com/"); got != "document.pdf" {
		t.Fatalf("empty path should fall back, got %q", got)
	}
}

func TestPathPrefix(t *testing.T) {
	if got := PathPrefix("https://example.com/a/b/c/d"); got != "/a/b" {
		t.Fatalf("got %q", got)
	}
	if got := PathPrefix("https://example.com/a"); got != "/a" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractInsurerName(t *testing.T) {
	if got := ExtractInsurerName("https://www.tower.co.nz/pds.pdf"); got != "Tower" {
		t.Fatalf("got %q", got)
	}
	if got := ExtractInsurerName("://bad"); got != "Unknown" {
		t.Fatalf("got %q", got)
	}
}
