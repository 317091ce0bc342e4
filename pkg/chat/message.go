package chat

// Role identifies who authored a message in the transcript.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Citation is a source document attached to a non-streamed reply.
type Citation struct {
	Content  string         `json:"content" yaml:"content"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Message is one transcript entry. Assistant messages start empty and grow
// by concatenation while their stream is open.
type Message struct {
	Role    Role       `json:"role" yaml:"role"`
	Content string     `json:"content" yaml:"content"`
	Sources []Citation `json:"sources,omitempty" yaml:"sources,omitempty"`
}

func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

func NewAssistantMessage() Message {
	return Message{Role: RoleAssistant}
}

// Clone returns a copy that shares no slices or maps with m.
func (m Message) Clone() Message {
	out := Message{Role: m.Role, Content: m.Content}
	if len(m.Sources) > 0 {
		out.Sources = make([]Citation, len(m.Sources))
		for i, s := range m.Sources {
			c := Citation{Content: s.Content}
			if s.Metadata != nil {
				c.Metadata = make(map[string]any, len(s.Metadata))
				for k, v := range s.Metadata {
					c.Metadata[k] = v
				}
			}
			out.Sources[i] = c
		}
	}
	return out
}

// CloneMessages deep-copies a transcript.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
