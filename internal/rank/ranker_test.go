package rank

import (
	"testing"

	"github.com/org/credbroker/pkg/models"
)

func entry(url, title, username string) *models.CredentialEntry {
	return &models.CredentialEntry{URL: url, Title: title, Username: username}
}

func TestPriorityTiers(t *testing.T) {
	const (
		host      = "example.com"
		submitURL = "https://example.com/login"
	)
	submit, baseSubmit := normalizeSubmitURL(submitURL)

	cases := []struct {
		name string
		url  string
		want int
	}{
		{"exact submit match", "https://example.com/login", 100},
		{"submit prefixed by entry path", "https://example.com/log", 90},
		{"host entry", "https://example.com", 70},
		{"entry prefixed by submit", "https://example.com/login/step2", 50},
		{"dotless host always lowest", "https://intranet/login", 0},
		{"localhost is exempt from the dotless rule", "https://localhost/login", 0},
		{"unrelated", "https://other.org/", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := priority(entry(tc.url, "", ""), host, submit, baseSubmit)
			if got != tc.want {
				t.Errorf("priority(%q) = %d, want %d", tc.url, got, tc.want)
			}
		})
	}
}

func TestPriorityLocalhostNotZeroTier(t *testing.T) {
	// localhost entries are allowed to score through the normal tiers.
	submit, baseSubmit := normalizeSubmitURL("https://localhost/login")
	got := priority(entry("https://localhost/login", "", ""), "localhost", submit, baseSubmit)
	if got != 100 {
		t.Errorf("priority = %d, want 100", got)
	}
}

func TestRankOrder(t *testing.T) {
	r := New("en", false, false)
	entries := []*models.CredentialEntry{
		entry("https://example.com", "A", "a"),
		entry("https://example.com/login", "B", "b"),
		entry("https://other.org", "C", "c"),
	}
	got := r.Rank(entries, "example.com", "https://example.com/login")
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[0].Username != "b" {
		t.Errorf("first entry = %q, want exact submit match %q", got[0].Username, "b")
	}
	if got[1].Username != "a" {
		t.Errorf("second entry = %q, want host match %q", got[1].Username, "a")
	}
	if got[2].Username != "c" {
		t.Errorf("last entry = %q, want unrelated %q", got[2].Username, "c")
	}
}

func TestRankStableTieBreak(t *testing.T) {
	r := New("en", false, false)
	a := entry("https://example.com", "", "alice")
	b := entry("https://example.com", "", "Bob")
	c := entry("https://example.com", "", "carol")

	// Order must not depend on input order.
	first := r.Rank([]*models.CredentialEntry{c, b, a}, "example.com", "https://example.com/login")
	second := r.Rank([]*models.CredentialEntry{a, c, b}, "example.com", "https://example.com/login")
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("ordering depends on input order at index %d", i)
		}
	}
	// Case-insensitive username order.
	want := []string{"alice", "Bob", "carol"}
	for i, w := range want {
		if first[i].Username != w {
			t.Errorf("position %d = %q, want %q", i, first[i].Username, w)
		}
	}
}

func TestRankByTitleThenUsername(t *testing.T) {
	r := New("en", true, false)
	entries := []*models.CredentialEntry{
		entry("https://example.com", "Mail", "zoe"),
		entry("https://example.com", "Mail", "amy"),
		entry("https://example.com", "Admin", "zoe"),
	}
	got := r.Rank(entries, "example.com", "https://example.com/")
	want := []struct{ title, user string }{
		{"Admin", "zoe"}, {"Mail", "amy"}, {"Mail", "zoe"},
	}
	for i, w := range want {
		if got[i].Title != w.title || got[i].Username != w.user {
			t.Errorf("position %d = %s/%s, want %s/%s",
				i, got[i].Title, got[i].Username, w.title, w.user)
		}
	}
}

func TestRankBestMatchOnly(t *testing.T) {
	r := New("en", false, true)
	entries := []*models.CredentialEntry{
		entry("https://example.com/login", "", "exact"),
		entry("https://example.com", "", "host"),
	}
	got := r.Rank(entries, "example.com", "https://example.com/login")
	if len(got) != 1 {
		t.Fatalf("got %d entries, want only the best tier", len(got))
	}
	if got[0].Username != "exact" {
		t.Errorf("best match = %q, want %q", got[0].Username, "exact")
	}
}
