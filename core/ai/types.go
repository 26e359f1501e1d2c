package ai

// Chat roles shared by all providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation in provider-neutral form.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationOptions tune a single text-generation call. Zero values fall
// back to provider defaults.
type GenerationOptions struct {
	Model       string
	Temperature float64
}
