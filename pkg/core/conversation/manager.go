// Package conversation owns a call's turn log and scripted flow, and turns
// caller utterances into agent replies through an LLM.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-callcore/pkg/core"
	"github.com/vango-go/vai-callcore/pkg/core/flow"
	"github.com/vango-go/vai-callcore/pkg/core/llm"
	"github.com/vango-go/vai-callcore/pkg/core/script"
)

const (
	DefaultHistoryTurns = 12
	DefaultPrompt       = "You are a helpful phone assistant. Keep replies short and conversational, one or two sentences."
)

// FlowState tracks progress through an active script.
type FlowState struct {
	ScriptName        string            `json:"script_name"`
	CurrentState      string            `json:"current_state"`
	CollectedEntities map[string]string `json:"collected_entities"`
	Active            bool              `json:"active"`
}

// Snapshot returns a deep copy.
func (f FlowState) Snapshot() FlowState {
	f.CollectedEntities = cloneMap(f.CollectedEntities)
	if f.CollectedEntities == nil {
		f.CollectedEntities = map[string]string{}
	}
	return f
}

// Utterance is one transcribed caller turn and what was extracted from it.
type Utterance struct {
	Text         string
	Entities     map[string]string
	Intent       string
	Confirmation *bool
}

// Response is the agent's reply to an utterance.
type Response struct {
	Text         string `json:"text"`
	CurrentState string `json:"current_state,omitempty"`
	IsTerminal   bool   `json:"is_terminal"`
}

type Dependencies struct {
	CallID string
	LLM    llm.Provider
	Logger *slog.Logger
	Clock  func() time.Time

	// HistoryTurns bounds how many recent turns are sent with each prompt.
	HistoryTurns     int
	DefaultPrompt    string
	GenerationConfig llm.GenerationConfig

	// TurnSink, when set, observes every appended turn.
	TurnSink func(Turn)
}

// Manager holds one call's conversation. It is safe for concurrent use, but
// utterances are expected one at a time.
type Manager struct {
	callID  string
	llm     llm.Provider
	logger  *slog.Logger
	history int
	prompt  string
	gen     llm.GenerationConfig
	sink    func(Turn)

	log *TurnLog

	mu     sync.Mutex
	script *script.Script
	vars   map[string]string
	flow   FlowState
}

func NewManager(deps Dependencies) (*Manager, error) {
	if deps.LLM == nil {
		return nil, errors.New("conversation: LLM provider is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	history := deps.HistoryTurns
	if history <= 0 {
		history = DefaultHistoryTurns
	}
	prompt := strings.TrimSpace(deps.DefaultPrompt)
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &Manager{
		callID:  deps.CallID,
		llm:     deps.LLM,
		logger:  logger.With("call_id", deps.CallID),
		history: history,
		prompt:  prompt,
		gen:     deps.GenerationConfig,
		sink:    deps.TurnSink,
		log:     NewTurnLog(deps.Clock),
	}, nil
}

// ActivateScript starts s at its starting state. It fails with already_active
// while another flow is active.
func (m *Manager) ActivateScript(s *script.Script, overrides map[string]string) (FlowState, error) {
	if s == nil {
		return FlowState{}, core.NewInvalidRequestError("script is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flow.Active {
		return FlowState{}, core.NewAlreadyActiveError(m.flow.ScriptName)
	}
	m.script = s
	m.vars = script.ResolveDynamicVariables(s, overrides)
	m.flow = FlowState{
		ScriptName:        s.Name,
		CurrentState:      s.StartingState,
		CollectedEntities: map[string]string{},
		Active:            true,
	}
	m.logger.Info("script activated", "script", s.Name, "state", s.StartingState)
	return m.flow.Snapshot(), nil
}

// DeactivateScript ends the flow. The turn log is kept.
func (m *Manager) DeactivateScript() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flow.Active {
		m.logger.Info("script deactivated", "script", m.flow.ScriptName, "state", m.flow.CurrentState)
	}
	m.flow.Active = false
}

// Flow returns a copy of the flow state.
func (m *Manager) Flow() FlowState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flow.Snapshot()
}

// Turns returns a copy of the turn log.
func (m *Manager) Turns() []Turn {
	return m.log.All()
}

// ProcessUserUtterance records the caller's turn, advances the flow and
// generates the agent reply. On generation failure no agent turn is recorded
// and a generation_failed error is returned; the caller decides the fallback.
func (m *Manager) ProcessUserUtterance(ctx context.Context, u Utterance) (Response, error) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return Response{}, core.NewInvalidRequestError("utterance text is required")
	}

	m.mu.Lock()
	active := m.flow.Active && m.script != nil
	var before string
	if active {
		before = m.flow.CurrentState
	}
	m.append(Turn{
		Speaker:     SpeakerUser,
		Text:        text,
		Entities:    u.Entities,
		Intent:      u.Intent,
		StateAtTurn: before,
	})

	system := m.prompt
	terminal := false
	if active {
		for k, v := range u.Entities {
			if strings.TrimSpace(v) == "" {
				continue
			}
			m.flow.CollectedEntities[k] = v
		}
		d := flow.NextState(m.script, before, flow.Signal{
			Intent:       u.Intent,
			Entities:     u.Entities,
			Confirmation: u.Confirmation,
		}, m.flow.CollectedEntities)
		if d.Changed() {
			m.logger.Info("flow transition", "from", d.From, "state", d.To, "reason", string(d.Reason))
		}
		m.flow.CurrentState = d.To
		terminal = m.script.IsTerminal(d.To)
		system = m.buildSystemPrompt()
	}
	current := before
	if active {
		current = m.flow.CurrentState
	}
	m.mu.Unlock()

	history := toMessages(m.log.Last(m.history))
	reply, err := m.complete(ctx, system, history)
	if err != nil {
		return Response{}, core.NewGenerationFailedError(err)
	}

	m.mu.Lock()
	m.append(Turn{Speaker: SpeakerAgent, Text: reply, StateAtTurn: current})
	if terminal && m.flow.Active {
		m.flow.Active = false
		m.logger.Info("script completed", "script", m.flow.ScriptName, "state", current)
	}
	m.mu.Unlock()

	return Response{Text: reply, CurrentState: current, IsTerminal: terminal}, nil
}

// RecordAgentTurn logs text spoken on the agent's behalf without the LLM, such
// as a fallback apology.
func (m *Manager) RecordAgentTurn(text string) Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	var state string
	if m.flow.Active {
		state = m.flow.CurrentState
	}
	return m.append(Turn{Speaker: SpeakerAgent, Text: text, StateAtTurn: state})
}

// complete calls the LLM once, then once more with the oldest half of the
// history dropped.
func (m *Manager) complete(ctx context.Context, system string, history []llm.Message) (string, error) {
	reply, err := m.llm.Complete(ctx, system, history, m.gen)
	if err == nil && strings.TrimSpace(reply) != "" {
		return strings.TrimSpace(reply), nil
	}
	if err == nil {
		err = core.NewCollaboratorError(core.ErrLLM, m.llm.Name(), errors.New("empty completion"))
	}
	if ctx.Err() != nil {
		return "", err
	}
	m.logger.Warn("completion failed, retrying with shorter history", "error", err, "history", len(history))

	reply, err = m.llm.Complete(ctx, system, history[len(history)/2:], m.gen)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = core.NewCollaboratorError(core.ErrLLM, m.llm.Name(), errors.New("empty completion"))
	}
	if err != nil {
		m.logger.Error("completion failed", "error", err)
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// buildSystemPrompt requires m.mu.
func (m *Manager) buildSystemPrompt() string {
	var parts []string
	if g := strings.TrimSpace(script.Substitute(m.script.GeneralPrompt, m.vars)); g != "" {
		parts = append(parts, g)
	}
	if st, ok := m.script.State(m.flow.CurrentState); ok {
		if p := strings.TrimSpace(script.Substitute(st.Prompt, m.vars)); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return m.prompt
	}
	return strings.Join(parts, "\n\n")
}

// append requires m.mu.
func (m *Manager) append(t Turn) Turn {
	stored := m.log.Append(t)
	if m.sink != nil {
		m.sink(stored)
	}
	return stored
}

func toMessages(turns []Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleUser
		if t.Speaker == SpeakerAgent {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: t.Text})
	}
	return out
}

// CallID returns the call this manager belongs to.
func (m *Manager) CallID() string {
	return m.callID
}
