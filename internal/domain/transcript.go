package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Role tags the originator of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message exchanged in a conversation.
type Turn struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// NewTurn creates a turn with a fresh message identifier.
func NewTurn(role Role, text string) Turn {
	return Turn{ID: uuid.NewString(), Role: role, Text: text}
}

// Transcript is the append-only, ordered list of turns of a session.
// The zero value is an empty transcript ready to use.
type Transcript struct {
	turns     []Turn
	exchanges int
}

// Append adds a turn to the end of the transcript.
func (t *Transcript) Append(turn Turn) {
	t.turns = append(t.turns, turn)
	if turn.Role == RoleAssistant {
		t.exchanges++
	}
}

// All returns the full ordered sequence. The returned slice is a copy.
func (t *Transcript) All() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	return len(t.turns)
}

// Exchanges returns the number of assistant turns, i.e. completed exchanges.
func (t *Transcript) Exchanges() int {
	return t.exchanges
}

// Find returns the turn with the given message identifier.
func (t *Transcript) Find(id string) (Turn, bool) {
	for _, turn := range t.turns {
		if turn.ID == id {
			return turn, true
		}
	}
	return Turn{}, false
}

// Clone returns an independent copy of the transcript.
func (t Transcript) Clone() Transcript {
	return Transcript{turns: t.All(), exchanges: t.exchanges}
}

// MarshalJSON encodes the transcript as a plain array of turns.
func (t Transcript) MarshalJSON() ([]byte, error) {
	if t.turns == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.turns)
}

// UnmarshalJSON decodes a plain array of turns.
func (t *Transcript) UnmarshalJSON(data []byte) error {
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return err
	}
	*t = Transcript{}
	for _, turn := range turns {
		t.Append(turn)
	}
	return nil
}
