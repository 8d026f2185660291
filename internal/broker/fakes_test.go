package broker

import (
	"context"
)

// fakePrompt scripts the user's answers.
type fakePrompt struct {
	confirmAnswer  bool
	confirmCalls   int
	inputText      string
	inputOK        bool
	selection      SelectionResult
	selectErr      error
	selectCalls    int
	lastSelection  *SelectionRequest
	denyIndexes    []int
	databaseIndex  int
	databaseChosen bool
}

func (p *fakePrompt) Confirm(context.Context, string, string) (bool, error) {
	p.confirmCalls++
	return p.confirmAnswer, nil
}

func (p *fakePrompt) InputText(context.Context, string, string) (string, bool, error) {
	return p.inputText, p.inputOK, nil
}

func (p *fakePrompt) SelectEntries(_ context.Context, req *SelectionRequest) (SelectionResult, error) {
	p.selectCalls++
	p.lastSelection = req
	for _, i := range p.denyIndexes {
		req.Deny(i)
	}
	return p.selection, p.selectErr
}

func (p *fakePrompt) SelectDatabase(context.Context, []string) (int, bool, error) {
	return p.databaseIndex, p.databaseChosen, nil
}
