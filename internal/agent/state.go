package agent

// Role tags a message in the pipeline input sequence.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of the pipeline input.
type Message struct {
	Role Role
	Text string
}

// Verdict is the guardrail's classification of the latest user turn.
type Verdict int

const (
	VerdictUnset Verdict = iota
	VerdictPass
	VerdictFail
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictFail:
		return "fail"
	default:
		return "unset"
	}
}

// State enumerates the pipeline stages. Every run walks
// Start → Guardrail → {Synthesize | Reject} → End.
type State int

const (
	StateStart State = iota
	StateGuardrail
	StateSynthesize
	StateReject
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateGuardrail:
		return "guardrail"
	case StateSynthesize:
		return "synthesize"
	case StateReject:
		return "reject"
	case StateEnd:
		return "end"
	default:
		return "unknown"
	}
}

// PipelineState is the transient state of one pipeline invocation. It is
// scoped to a single chat id; the chat id is the only key under which it
// may ever be stored or recalled.
type PipelineState struct {
	ChatID   int64
	Messages []Message
	Verdict  Verdict
}

// clone returns a deep copy so checkpointed state can never be mutated
// through a slice shared with a live invocation.
func (s PipelineState) clone() PipelineState {
	cp := s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	return cp
}
