// Package rank orders candidate credential entries for a request using a
// deterministic multi-tier priority over the submit URL.
package rank

import (
	"net/url"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/org/credbroker/pkg/models"
)

// defaultScheme is assumed when the submit or entry URL carries no scheme.
const defaultScheme = "https"

// Ranker produces a total order over candidate entries.
type Ranker struct {
	// SortByTitle breaks ties by title before username; otherwise by
	// username alone.
	SortByTitle bool
	// BestMatchOnly truncates the result to the highest nonempty tier.
	BestMatchOnly bool

	collator *collate.Collator
}

// New creates a Ranker using the collation rules of the given locale tag.
// An unrecognized tag falls back to the undetermined locale.
func New(locale string, sortByTitle, bestMatchOnly bool) *Ranker {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Und
	}
	return &Ranker{
		SortByTitle:   sortByTitle,
		BestMatchOnly: bestMatchOnly,
		collator:      collate.New(tag, collate.IgnoreCase),
	}
}

// Rank orders entries against the request host and submit URL. For equal
// priorities the order falls back to locale-aware comparison of the
// configured field, then of the username, independent of input order.
func (r *Ranker) Rank(entries []*models.CredentialEntry, host, submitURL string) []*models.CredentialEntry {
	submit, baseSubmit := normalizeSubmitURL(submitURL)

	priorities := make(map[int][]*models.CredentialEntry)
	for _, entry := range entries {
		p := priority(entry, host, submit, baseSubmit)
		priorities[p] = append(priorities[p], entry)
	}

	var out []*models.CredentialEntry
	for p := 100; p >= 0; p -= 5 {
		tier := priorities[p]
		if len(tier) == 0 {
			continue
		}
		sort.SliceStable(tier, func(i, j int) bool {
			return r.less(tier[i], tier[j])
		})
		out = append(out, tier...)
		if r.BestMatchOnly {
			break
		}
	}
	return out
}

func (r *Ranker) less(a, b *models.CredentialEntry) bool {
	if r.SortByTitle {
		if c := r.collator.CompareString(a.Title, b.Title); c != 0 {
			return c < 0
		}
	}
	return r.collator.CompareString(a.Username, b.Username) < 0
}

// normalizeSubmitURL applies the default scheme and strips the trailing
// slash, returning both the full URL and its origin-only form.
func normalizeSubmitURL(raw string) (submit, baseSubmit string) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, raw
	}
	if u.Scheme == "" {
		u, err = url.Parse(defaultScheme + "://" + raw)
		if err != nil {
			return raw, raw
		}
	}
	submit = strings.TrimSuffix(u.String(), "/")
	base := *u
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	baseSubmit = strings.TrimSuffix(base.String(), "/")
	return submit, baseSubmit
}

// normalizeEntryURL mirrors normalizeSubmitURL for an entry URL, adding an
// empty path when the URL has neither path, query nor fragment.
func normalizeEntryURL(raw string) (entryURL, baseEntryURL string) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		u, err = url.Parse(defaultScheme + "://" + raw)
		if err != nil {
			return raw, raw
		}
	}
	if u.Path == "" && u.RawQuery == "" && u.Fragment == "" {
		u.Path = "/"
	}
	entryURL = strings.TrimSuffix(u.String(), "/")
	base := *u
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	baseEntryURL = strings.TrimSuffix(base.String(), "/")
	return entryURL, baseEntryURL
}

// priority computes the match tier of one entry. Checks are ordered and the
// first hit wins.
func priority(entry *models.CredentialEntry, host, submitURL, baseSubmitURL string) int {
	entryURL, baseEntryURL := normalizeEntryURL(entry.URL)

	entryHost := hostOf(entryURL)
	if !strings.Contains(entryHost, ".") && entryHost != "localhost" {
		return 0
	}
	switch {
	case submitURL == entryURL:
		return 100
	case strings.HasPrefix(submitURL, entryURL) && entryURL != host && baseSubmitURL != entryURL:
		return 90
	case strings.HasPrefix(submitURL, baseEntryURL) && entryURL != host && baseSubmitURL != baseEntryURL:
		return 80
	case entryURL == host || (entryURL == baseEntryURL && entryHost == host):
		return 70
	case entryURL == baseSubmitURL:
		return 60
	case strings.HasPrefix(entryURL, submitURL):
		return 50
	case strings.HasPrefix(entryURL, baseSubmitURL) && baseSubmitURL != host:
		return 40
	case strings.HasPrefix(submitURL, entryURL):
		return 30
	case strings.HasPrefix(submitURL, baseEntryURL):
		return 20
	case strings.HasPrefix(entryURL, host):
		return 10
	case strings.HasPrefix(host, entryURL):
		return 5
	default:
		return 0
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
