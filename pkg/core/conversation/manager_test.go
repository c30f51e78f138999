package conversation

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-callcore/pkg/core"
	"github.com/vango-go/vai-callcore/pkg/core/llm"
	"github.com/vango-go/vai-callcore/pkg/core/script"
)

type llmCall struct {
	prompt  string
	history []llm.Message
}

type fakeLLM struct {
	mu    sync.Mutex
	errs  []error
	calls []llmCall
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Complete(ctx context.Context, prompt string, history []llm.Message, cfg llm.GenerationConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.calls)
	f.calls = append(f.calls, llmCall{prompt: prompt, history: append([]llm.Message(nil), history...)})
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	return "reply " + string(rune('A'+idx)), nil
}

func (f *fakeLLM) lastCall() llmCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func claimsScript(t *testing.T) *script.Script {
	t.Helper()
	data, err := os.ReadFile("../script/testdata/insurance_claims_full_flow.json")
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	s, _, err := script.Parse(data, script.FormatJSON)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return s
}

func newTestManager(t *testing.T, f *fakeLLM, history int) *Manager {
	t.Helper()
	m, err := NewManager(Dependencies{
		CallID:       "call_1",
		LLM:          f,
		HistoryTurns: history,
		Clock:        func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func say(t *testing.T, m *Manager, u Utterance) Response {
	t.Helper()
	resp, err := m.ProcessUserUtterance(context.Background(), u)
	if err != nil {
		t.Fatalf("ProcessUserUtterance(%q) error = %v", u.Text, err)
	}
	return resp
}

func TestActivateScript_AlreadyActive(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &fakeLLM{}, 0)
	s := claimsScript(t)

	fs, err := m.ActivateScript(s, nil)
	if err != nil {
		t.Fatalf("ActivateScript() error = %v", err)
	}
	if fs.CurrentState != "new_claim" || !fs.Active || len(fs.CollectedEntities) != 0 {
		t.Fatalf("flow=%+v", fs)
	}
	if _, err := m.ActivateScript(s, nil); !core.IsType(err, core.ErrAlreadyActive) {
		t.Fatalf("err=%v, want already_active", err)
	}

	m.DeactivateScript()
	if m.Flow().Active {
		t.Fatalf("flow still active after DeactivateScript")
	}
	if _, err := m.ActivateScript(s, nil); err != nil {
		t.Fatalf("re-activate error = %v", err)
	}
}

func TestProcessUserUtterance_NewClaimTransitions(t *testing.T) {
	t.Parallel()

	f := &fakeLLM{}
	m := newTestManager(t, f, 0)
	if _, err := m.ActivateScript(claimsScript(t), nil); err != nil {
		t.Fatalf("ActivateScript() error = %v", err)
	}

	resp := say(t, m, Utterance{Text: "I want to file a new claim", Intent: "new_claim"})
	if resp.CurrentState != "claim_type" || resp.IsTerminal {
		t.Fatalf("resp=%+v", resp)
	}
	if resp.Text != "reply A" {
		t.Fatalf("Text=%q", resp.Text)
	}

	call := f.lastCall()
	if !strings.Contains(call.prompt, "You are Ava, a phone agent for Northwind Insurance") {
		t.Fatalf("prompt missing substituted general prompt: %q", call.prompt)
	}
	if !strings.Contains(call.prompt, "Ask which kind of claim") {
		t.Fatalf("prompt missing claim_type state prompt: %q", call.prompt)
	}
	if len(call.history) != 1 || call.history[0].Role != llm.RoleUser {
		t.Fatalf("history=%+v", call.history)
	}

	turns := m.Turns()
	if len(turns) != 2 {
		t.Fatalf("len(turns)=%d, want 2", len(turns))
	}
	if turns[0].Speaker != SpeakerUser || turns[0].StateAtTurn != "new_claim" || turns[0].Intent != "new_claim" {
		t.Fatalf("user turn=%+v", turns[0])
	}
	if turns[1].Speaker != SpeakerAgent || turns[1].StateAtTurn != "claim_type" {
		t.Fatalf("agent turn=%+v", turns[1])
	}
	if turns[0].ID == "" || turns[0].ID == turns[1].ID {
		t.Fatalf("turn ids=%q,%q", turns[0].ID, turns[1].ID)
	}
}

func TestProcessUserUtterance_EntityMergeIgnoresEmptyValues(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &fakeLLM{}, 0)
	if _, err := m.ActivateScript(claimsScript(t), nil); err != nil {
		t.Fatalf("ActivateScript() error = %v", err)
	}

	say(t, m, Utterance{Text: "new claim please", Intent: "new_claim"})
	if got := say(t, m, Utterance{Text: "auto", Entities: map[string]string{"claim_category": "auto"}}).CurrentState; got != "policy_verification" {
		t.Fatalf("state=%q, want policy_verification", got)
	}
	if got := say(t, m, Utterance{Text: "PN-1234", Entities: map[string]string{"policy_number": "PN-1234"}}).CurrentState; got != "policy_verification" {
		t.Fatalf("state=%q, want to stay in policy_verification", got)
	}
	if got := say(t, m, Utterance{Text: "umm", Entities: map[string]string{"verification": "", "policy_number": ""}}).CurrentState; got != "policy_verification" {
		t.Fatalf("state=%q, empty verification should not count", got)
	}
	if got := say(t, m, Utterance{Text: "born 1980", Entities: map[string]string{"verification": "1980-01-01"}}).CurrentState; got != "incident_details" {
		t.Fatalf("state=%q, want incident_details", got)
	}

	fs := m.Flow()
	if fs.CollectedEntities["policy_number"] != "PN-1234" {
		t.Fatalf("policy_number=%q, empty value must not overwrite", fs.CollectedEntities["policy_number"])
	}
	fs.CollectedEntities["claim_category"] = "mutated"
	if m.Flow().CollectedEntities["claim_category"] != "auto" {
		t.Fatalf("Flow() returned shared map")
	}
}

func TestProcessUserUtterance_RetriesWithHalfHistory(t *testing.T) {
	t.Parallel()

	f := &fakeLLM{}
	m := newTestManager(t, f, 4)
	for i := 0; i < 3; i++ {
		say(t, m, Utterance{Text: "hello"})
	}
	f.mu.Lock()
	f.errs = make([]error, 3)
	f.errs = append(f.errs, core.NewCollaboratorError(core.ErrLLM, "fake", errors.New("context too long")))
	f.mu.Unlock()

	resp := say(t, m, Utterance{Text: "still there?"})
	if resp.Text != "reply E" {
		t.Fatalf("Text=%q, want retry reply", resp.Text)
	}

	f.mu.Lock()
	first, retry := f.calls[3], f.calls[4]
	f.mu.Unlock()
	if len(first.history) != 4 || len(retry.history) != 2 {
		t.Fatalf("history lengths=%d,%d, want 4,2", len(first.history), len(retry.history))
	}
	if retry.history[1].Content != "still there?" {
		t.Fatalf("retry dropped the latest turn: %+v", retry.history)
	}
}

func TestProcessUserUtterance_GenerationFailedAppendsNoAgentTurn(t *testing.T) {
	t.Parallel()

	llmErr := core.NewCollaboratorError(core.ErrLLM, "fake", errors.New("503"))
	f := &fakeLLM{errs: []error{llmErr, llmErr}}
	m := newTestManager(t, f, 0)

	_, err := m.ProcessUserUtterance(context.Background(), Utterance{Text: "hello"})
	if !core.IsType(err, core.ErrGenerationFailed) {
		t.Fatalf("err=%v, want generation_failed", err)
	}
	if !core.IsType(err, core.ErrLLM) {
		t.Fatalf("err=%v, want wrapped llm_error", err)
	}
	turns := m.Turns()
	if len(turns) != 1 || turns[0].Speaker != SpeakerUser {
		t.Fatalf("turns=%+v, want only the user turn", turns)
	}

	fallback := m.RecordAgentTurn("I apologize, could you repeat that?")
	if fallback.Speaker != SpeakerAgent || m.log.Len() != 2 {
		t.Fatalf("fallback=%+v len=%d", fallback, m.log.Len())
	}
}

func TestProcessUserUtterance_TerminalDeactivates(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &fakeLLM{}, 0)
	s := claimsScript(t)
	if _, err := m.ActivateScript(s, nil); err != nil {
		t.Fatalf("ActivateScript() error = %v", err)
	}

	say(t, m, Utterance{Text: "check on my claim", Intent: "existing_claim"})
	say(t, m, Utterance{Text: "CL-42", Entities: map[string]string{"claim_number": "CL-42"}})
	resp := say(t, m, Utterance{Text: "thanks"})
	if resp.CurrentState != "closing" || !resp.IsTerminal {
		t.Fatalf("resp=%+v, want terminal closing", resp)
	}
	if m.Flow().Active {
		t.Fatalf("flow still active after terminal state")
	}
	if n := len(m.Turns()); n != 6 {
		t.Fatalf("len(turns)=%d, want 6", n)
	}
	if _, err := m.ActivateScript(s, nil); err != nil {
		t.Fatalf("ActivateScript() after terminal error = %v", err)
	}
}

func TestProcessUserUtterance_OverridesAndDefaultPrompt(t *testing.T) {
	t.Parallel()

	f := &fakeLLM{}
	m := newTestManager(t, f, 0)
	if _, err := m.ActivateScript(claimsScript(t), map[string]string{"caller_name": "Dana", "agent_name": "Max"}); err != nil {
		t.Fatalf("ActivateScript() error = %v", err)
	}
	say(t, m, Utterance{Text: "what's the weather", Intent: "weather"})
	if p := f.lastCall().prompt; !strings.Contains(p, "Greet Dana") || !strings.Contains(p, "You are Max") {
		t.Fatalf("prompt=%q, want overrides substituted", p)
	}

	plain := newTestManager(t, f, 0)
	resp := say(t, plain, Utterance{Text: "hi"})
	if resp.CurrentState != "" || resp.IsTerminal {
		t.Fatalf("resp=%+v", resp)
	}
	if p := f.lastCall().prompt; p != DefaultPrompt {
		t.Fatalf("prompt=%q, want default", p)
	}
}

func TestProcessUserUtterance_TurnCountsAndHistoryBound(t *testing.T) {
	t.Parallel()

	f := &fakeLLM{}
	var sunk []Turn
	m, err := NewManager(Dependencies{LLM: f, HistoryTurns: 2, TurnSink: func(t Turn) { sunk = append(sunk, t) }})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	const n = 5
	for i := 0; i < n; i++ {
		say(t, m, Utterance{Text: "turn"})
	}
	var users, agents int
	for _, tr := range m.Turns() {
		switch tr.Speaker {
		case SpeakerUser:
			users++
		case SpeakerAgent:
			agents++
		}
	}
	if users != n || agents != n {
		t.Fatalf("users=%d agents=%d, want %d each", users, agents, n)
	}
	if got := len(f.lastCall().history); got != 2 {
		t.Fatalf("history=%d, want 2", got)
	}
	if len(sunk) != 2*n {
		t.Fatalf("sink saw %d turns, want %d", len(sunk), 2*n)
	}
}

func TestProcessUserUtterance_EmptyText(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &fakeLLM{}, 0)
	if _, err := m.ProcessUserUtterance(context.Background(), Utterance{Text: "  "}); !core.IsType(err, core.ErrInvalidRequest) {
		t.Fatalf("err=%v, want invalid_request_error", err)
	}
}

func TestNewManager_RequiresLLM(t *testing.T) {
	if _, err := NewManager(Dependencies{}); err == nil {
		t.Fatalf("expected error without LLM")
	}
}

func TestTurnLog_LastReturnsCopies(t *testing.T) {
	t.Parallel()

	l := NewTurnLog(nil)
	l.Append(Turn{Speaker: SpeakerUser, Text: "one", Entities: map[string]string{"k": "v"}})
	l.Append(Turn{Speaker: SpeakerAgent, Text: "two"})
	l.Append(Turn{Speaker: SpeakerUser, Text: "three"})

	last := l.Last(2)
	if len(last) != 2 || last[0].Text != "two" || last[1].Text != "three" {
		t.Fatalf("Last(2)=%+v", last)
	}
	if got := l.Last(10); len(got) != 3 {
		t.Fatalf("Last(10) len=%d, want 3", len(got))
	}
	all := l.All()
	all[0].Entities["k"] = "changed"
	all[0].Text = "changed"
	if again := l.All(); again[0].Entities["k"] != "v" || again[0].Text != "one" {
		t.Fatalf("log mutated through copy: %+v", again[0])
	}
	if all[0].Timestamp.IsZero() {
		t.Fatalf("Append did not stamp timestamp")
	}
}
