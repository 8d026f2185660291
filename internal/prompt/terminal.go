// Package prompt implements the interactive confirmation surface on a
// terminal. Without a terminal every dialog resolves as declined, so a
// headless daemon fails closed.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/org/credbroker/internal/broker"
)

// Terminal asks the user on the controlling terminal. One outstanding
// read at a time; the broker already serializes confirmations.
type Terminal struct {
	in          io.Reader
	out         io.Writer
	interactive bool

	reader *bufio.Reader
}

// NewTerminal creates a Terminal over stdin/stdout. When stdin is not a
// terminal, every dialog auto-declines.
func NewTerminal() *Terminal {
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if !interactive {
		log.Warn().Msg("stdin is not a terminal, all confirmations will be declined")
	}
	return &Terminal{
		in:          os.Stdin,
		out:         os.Stdout,
		interactive: interactive,
		reader:      bufio.NewReader(os.Stdin),
	}
}

// Confirm asks a yes/no question. Anything but an explicit yes declines.
func (t *Terminal) Confirm(ctx context.Context, title, text string) (bool, error) {
	if !t.interactive {
		return false, nil
	}
	fmt.Fprintf(t.out, "\n== %s ==\n%s\n[y/N] > ", title, text)
	line, err := t.readLine(ctx, nil)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// InputText asks for one line of text. An empty line dismisses.
func (t *Terminal) InputText(ctx context.Context, title, label string) (string, bool, error) {
	if !t.interactive {
		return "", false, nil
	}
	fmt.Fprintf(t.out, "\n== %s ==\n%s\n> ", title, label)
	line, err := t.readLine(ctx, nil)
	if err != nil {
		return "", false, err
	}
	text := strings.TrimSpace(line)
	return text, text != "", nil
}

// SelectEntries shows the confirmation batch and reads the selection:
// comma-separated row numbers, "a" for all, an appended "r" to remember,
// "d N" to deny-and-remember row N, empty to dismiss. The dialog resolves
// as dismissed when the request is cancelled mid-read.
func (t *Terminal) SelectEntries(ctx context.Context, req *broker.SelectionRequest) (broker.SelectionResult, error) {
	if !t.interactive {
		return broker.SelectionResult{}, nil
	}

	fmt.Fprintf(t.out, "\n== Credential request ==\n%s is asking for credentials", req.Host)
	if req.HTTPAuth {
		fmt.Fprintf(t.out, " (HTTP auth")
		if req.Realm != "" {
			fmt.Fprintf(t.out, ", realm %q", req.Realm)
		}
		fmt.Fprint(t.out, ")")
	}
	fmt.Fprintf(t.out, ":\n")
	for i, entry := range req.Entries {
		fmt.Fprintf(t.out, "  [%d] %s (%s)\n", i, entry.Title, entry.Username)
	}
	fmt.Fprint(t.out, "rows to allow (e.g. 0,2), 'a' all, append 'r' to remember, 'd N' to deny N, empty to dismiss\n> ")

	for {
		line, err := t.readLine(ctx, req.Cancelled)
		if err != nil {
			return broker.SelectionResult{}, err
		}
		line = strings.TrimSpace(strings.ToLower(line))
		if line == "" {
			return broker.SelectionResult{}, nil
		}

		if rest, ok := strings.CutPrefix(line, "d "); ok {
			if index, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil && req.Deny != nil {
				req.Deny(index)
			}
			fmt.Fprint(t.out, "> ")
			continue
		}

		result := broker.SelectionResult{}
		if cut, ok := strings.CutSuffix(line, "r"); ok {
			result.Remember = true
			line = strings.TrimSpace(strings.TrimSuffix(cut, ","))
		}
		if line == "a" {
			for i := range req.Entries {
				result.Selected = append(result.Selected, i)
			}
			return result, nil
		}
		for _, tok := range strings.Split(line, ",") {
			index, err := strconv.Atoi(strings.TrimSpace(tok))
			if err != nil {
				continue
			}
			result.Selected = append(result.Selected, index)
		}
		return result, nil
	}
}

// SelectDatabase picks one of several database names by row number.
func (t *Terminal) SelectDatabase(ctx context.Context, names []string) (int, bool, error) {
	if !t.interactive {
		return 0, false, nil
	}
	fmt.Fprint(t.out, "\n== Select database ==\n")
	for i, name := range names {
		fmt.Fprintf(t.out, "  [%d] %s\n", i, name)
	}
	fmt.Fprint(t.out, "> ")
	line, err := t.readLine(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	index, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || index < 0 || index >= len(names) {
		return 0, false, nil
	}
	return index, true, nil
}

// readLine reads one line, resolving early when the context or the
// cancellation channel fires. A cancelled read leaves the pending input
// to be discarded by the next read.
func (t *Terminal) readLine(ctx context.Context, cancelled <-chan struct{}) (string, error) {
	type lineResult struct {
		line string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := t.reader.ReadString('\n')
		ch <- lineResult{line: line, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil && res.err != io.EOF {
			return "", res.err
		}
		return res.line, nil
	case <-cancelled:
		fmt.Fprintln(t.out, "\n(dialog cancelled)")
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
