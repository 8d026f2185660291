package broker

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/org/credbroker/internal/access"
	"github.com/org/credbroker/pkg/models"
)

// SelectionRequest is one confirmation batch shown to the user.
type SelectionRequest struct {
	Entries    []*models.CredentialEntry
	URL        string
	Host       string
	SubmitHost string
	Realm      string
	HTTPAuth   bool
	// Deny is fired per row when the user denies-and-remembers an entry,
	// independently of the final selection.
	Deny func(index int)
	// Cancelled resolves the dialog as dismissed when closed (database
	// locked or active database changed mid-prompt).
	Cancelled <-chan struct{}
}

// SelectionResult is the user's answer to a SelectionRequest.
type SelectionResult struct {
	// Selected holds indexes into the request's entry list.
	Selected []int
	// Remember persists an allow record for each selected entry.
	Remember bool
}

// UserPrompt is the interactive surface the broker defers to. A nil error
// with an empty result means the user declined.
type UserPrompt interface {
	// Confirm asks a yes/no question.
	Confirm(ctx context.Context, title, text string) (bool, error)
	// InputText asks for one line of text; ok is false on dismissal.
	InputText(ctx context.Context, title, label string) (text string, ok bool, err error)
	// SelectEntries shows a confirmation batch and returns the selection.
	SelectEntries(ctx context.Context, req *SelectionRequest) (SelectionResult, error)
	// SelectDatabase picks one of several database names; ok is false on
	// dismissal.
	SelectDatabase(ctx context.Context, names []string) (index int, ok bool, err error)
}

// confirmGate enforces the process-wide single-confirmation constraint and
// carries the cancellation channel for the dialog in flight.
type confirmGate struct {
	mu     sync.Mutex
	active bool
	cancel chan struct{}
}

func newConfirmGate() *confirmGate {
	return &confirmGate{}
}

// enter claims the gate. A second concurrent confirmation is rejected, not
// queued.
func (g *confirmGate) enter() (<-chan struct{}, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		return nil, false
	}
	g.active = true
	g.cancel = make(chan struct{})
	return g.cancel, true
}

func (g *confirmGate) leave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = false
	g.cancel = nil
}

// cancelActive resolves the dialog in flight, if any, as cancelled.
func (g *confirmGate) cancelActive() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active && g.cancel != nil {
		close(g.cancel)
		g.cancel = nil
	}
}

// confirmEntries runs the batched user confirmation for entries that could
// not be classified automatically. Denial is persisted immediately per row;
// allowance is persisted only for selected rows when the user opts to
// remember.
func (b *Broker) confirmEntries(ctx context.Context, toConfirm []candidate, pageURL, host, submitHost, realm string, httpAuth bool) []candidate {
	if len(toConfirm) == 0 {
		return nil
	}

	cancelled, ok := b.confirm.enter()
	if !ok {
		// Another confirmation is already active process-wide.
		return nil
	}
	defer b.confirm.leave()

	entries := make([]*models.CredentialEntry, len(toConfirm))
	for i, cand := range toConfirm {
		entries[i] = cand.entry
	}

	result, err := b.prompt.SelectEntries(ctx, &SelectionRequest{
		Entries:    entries,
		URL:        pageURL,
		Host:       host,
		SubmitHost: submitHost,
		Realm:      realm,
		HTTPAuth:   httpAuth,
		Deny: func(index int) {
			if index < 0 || index >= len(toConfirm) {
				return
			}
			b.rememberDecision(ctx, toConfirm[index], host, submitHost, realm, false)
		},
		Cancelled: cancelled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("entry confirmation failed")
		return nil
	}

	var allowed []candidate
	for _, index := range result.Selected {
		if index < 0 || index >= len(toConfirm) {
			continue
		}
		cand := toConfirm[index]
		if result.Remember {
			b.rememberDecision(ctx, cand, host, submitHost, realm, true)
		}
		allowed = append(allowed, cand)
	}
	return allowed
}

// rememberDecision persists an allow or deny record for the hosts of the
// current request onto the entry.
func (b *Broker) rememberDecision(ctx context.Context, cand candidate, host, submitHost, realm string, allow bool) {
	rec, _ := access.Load(cand.entry)
	if allow {
		rec.Allow(host)
		if submitHost != "" && submitHost != host {
			rec.Allow(submitHost)
		}
	} else {
		rec.Deny(host)
		if submitHost != "" && submitHost != host {
			rec.Deny(submitHost)
		}
	}
	if realm != "" {
		rec.Realm = realm
	}
	if err := access.Save(ctx, cand.db, cand.entry, rec); err != nil {
		log.Warn().Err(err).Str("entry", cand.entry.UUID.String()).Msg("persisting permission record")
	}
}
