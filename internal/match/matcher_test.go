package match

import "testing"

func TestBaseDomain(t *testing.T) {
	cases := []struct {
		host string
		want string
	}{
		{"another.example.co.uk", "example.co.uk"},
		{"www.example.com", "example.com"},
		{"example.com", "example.com"},
		{"sub.sub.example.com", "example.com"},
		{"192.168.0.1", "192.168.0.1"},
		{"::1", "::1"},
		{"localhost", "localhost"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := BaseDomain(tc.host); got != tc.want {
			t.Errorf("BaseDomain(%q) = %q, want %q", tc.host, got, tc.want)
		}
	}
}

func TestMatches(t *testing.T) {
	cases := []struct {
		name        string
		entryURL    string
		pageURL     string
		submitURL   string
		matchScheme bool
		want        bool
	}{
		{
			name:     "exact host",
			entryURL: "https://example.com", pageURL: "https://example.com/login",
			submitURL: "https://example.com/login", matchScheme: true, want: true,
		},
		{
			name:     "parent entry matches subdomain page",
			entryURL: "https://example.com", pageURL: "https://sub.example.com/login",
			submitURL: "https://sub.example.com/login", matchScheme: true, want: true,
		},
		{
			name:     "subdomain entry does not match parent page",
			entryURL: "https://sub.example.com", pageURL: "https://example.com/",
			submitURL: "https://example.com/", matchScheme: true, want: false,
		},
		{
			name:     "different registrable domain",
			entryURL: "https://example.com", pageURL: "https://example.org/",
			submitURL: "https://example.org/", matchScheme: true, want: false,
		},
		{
			name:     "lookalike suffix rejected by base domain check",
			entryURL: "https://le.com", pageURL: "https://example.com/",
			submitURL: "https://example.com/", matchScheme: true, want: false,
		},
		{
			name:     "empty entry URL fails closed",
			entryURL: "", pageURL: "https://example.com/", submitURL: "https://example.com/",
			matchScheme: true, want: false,
		},
		{
			name:     "scheme mismatch rejected when matching schemes",
			entryURL: "http://example.com", pageURL: "https://example.com/",
			submitURL: "https://example.com/", matchScheme: true, want: false,
		},
		{
			name:     "scheme mismatch tolerated otherwise",
			entryURL: "http://example.com", pageURL: "https://example.com/",
			submitURL: "https://example.com/", matchScheme: false, want: true,
		},
		{
			name:     "bare hostname entry",
			entryURL: "example.com", pageURL: "https://example.com/login",
			submitURL: "https://example.com/login", matchScheme: true, want: true,
		},
		{
			name:     "explicit port mismatch",
			entryURL: "https://example.com:8080", pageURL: "https://example.com/",
			submitURL: "https://example.com/", matchScheme: true, want: false,
		},
		{
			name:     "explicit port matching effective port",
			entryURL: "https://example.com:443", pageURL: "https://example.com/",
			submitURL: "https://example.com/", matchScheme: true, want: true,
		},
		{
			name:     "illegal characters rejected",
			entryURL: "https://example.com/{path}", pageURL: "https://example.com/",
			submitURL: "https://example.com/", matchScheme: true, want: false,
		},
		{
			name:     "local file uses exact comparison",
			entryURL: "file:///home/user/login.html", pageURL: "file:///home/user/login.html",
			submitURL: "file:///home/user/login.html", matchScheme: true, want: true,
		},
		{
			name:     "local file mismatch",
			entryURL: "file:///home/user/other.html", pageURL: "file:///home/user/login.html",
			submitURL: "file:///home/user/login.html", matchScheme: true, want: false,
		},
		{
			name:     "multi-label public suffix",
			entryURL: "https://example.co.uk", pageURL: "https://another.example.co.uk/",
			submitURL: "https://another.example.co.uk/", matchScheme: true, want: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Matches(tc.entryURL, tc.pageURL, tc.submitURL, tc.matchScheme)
			if got != tc.want {
				t.Errorf("Matches(%q, %q, %q, %v) = %v, want %v",
					tc.entryURL, tc.pageURL, tc.submitURL, tc.matchScheme, got, tc.want)
			}
		})
	}
}

// A positive match must always imply equal registrable domains.
func TestMatchesImpliesSameBaseDomain(t *testing.T) {
	pages := []string{
		"https://example.com/login",
		"https://sub.example.com/login",
		"https://another.example.co.uk/",
	}
	entries := []string{
		"https://example.com",
		"https://example.co.uk",
		"https://sub.example.com",
	}
	for _, page := range pages {
		for _, entry := range entries {
			if !Matches(entry, page, page, true) {
				continue
			}
			eb := BaseDomain(hostOf(t, entry))
			pb := BaseDomain(hostOf(t, page))
			if eb != pb {
				t.Errorf("entry %q matched page %q but base domains differ: %q vs %q",
					entry, page, eb, pb)
			}
		}
	}
}

func hostOf(t *testing.T, raw string) string {
	t.Helper()
	u, err := parseEntryURL(raw, true)
	if err != nil {
		t.Fatalf("parsing %q: %v", raw, err)
	}
	return u.Hostname()
}

func TestShortenHost(t *testing.T) {
	cases := []struct {
		host     string
		want     string
		wantMore bool
	}{
		{"a.b.example.com", "b.example.com", true},
		{"b.example.com", "example.com", true},
		{"example.com", "example.com", false},
		{"localhost", "localhost", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, more := ShortenHost(tc.host)
		if got != tc.want || more != tc.wantMore {
			t.Errorf("ShortenHost(%q) = (%q, %v), want (%q, %v)",
				tc.host, got, more, tc.want, tc.wantMore)
		}
	}
}

// Repeated shortening must terminate for any input.
func TestShortenHostTerminates(t *testing.T) {
	host := "a.b.c.d.e.f.g.h.example.co.uk"
	for i := 0; i < MaxShortenSteps(); i++ {
		next, more := ShortenHost(host)
		if !more {
			return
		}
		if len(next) >= len(host) {
			t.Fatalf("shortening did not make progress: %q -> %q", host, next)
		}
		host = next
	}
	t.Fatalf("shortening did not terminate within %d steps", MaxShortenSteps())
}
