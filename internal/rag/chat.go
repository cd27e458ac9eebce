package rag

// Role identifies the speaker of a conversational turn.
type Role string

// Turn roles. Meta turns carry pipeline remarks, such as the empty
// retrieval marker, that belong to neither participant.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleMeta      Role = "meta"
)

// ChatTurn is one unit of a chat exchange. Turns are produced per
// request and never persisted.
type ChatTurn struct {
	Role    Role    `json:"role"`
	Content string  `json:"content"`
	Sources []int64 `json:"sources,omitempty"` // cited event IDs in rank order
}

// Turns renders the question and answer as an ordered exchange. When
// retrieval found nothing, a meta turn carries the empty marker so
// clients can tell an ungrounded answer from a cited one. A degraded
// answer stays a plain assistant turn; generation failed, not
// retrieval.
func (a *Answer) Turns(question string) []ChatTurn {
	turns := []ChatTurn{{Role: RoleUser, Content: question}}

	if !a.Degraded && len(a.Sources) == 0 {
		turns = append(turns, ChatTurn{Role: RoleMeta, Content: emptyContextMarker})
	}

	answer := ChatTurn{Role: RoleAssistant, Content: a.Text}
	if len(a.Sources) > 0 {
		ids := make([]int64, len(a.Sources))
		for i, s := range a.Sources {
			ids[i] = s.ID
		}
		answer.Sources = ids
	}
	return append(turns, answer)
}
