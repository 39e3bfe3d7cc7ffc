package atlas

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Citation is a grounding source attached to a model turn.
type Citation struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Message is one turn in a conversation. Text accumulates while a model
// turn streams and is final once the turn completes.
type Message struct {
	Role      Role       `json:"role"`
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
}

// AddCitation appends c unless a citation with the same URI is already
// present. The first-seen title wins. Reports whether c was added.
func (m *Message) AddCitation(c Citation) bool {
	if c.URI == "" {
		return false
	}
	for _, existing := range m.Citations {
		if existing.URI == c.URI {
			return false
		}
	}
	m.Citations = append(m.Citations, c)
	return true
}
