package domain

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// VoicePrefix marks history entries that came from a transcribed recording.
const VoicePrefix = "🎤 "

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Session struct {
	ID string
}

// Turn is one exchange with the conversational backend. AudioRef is empty when
// the backend produced no synthesized audio.
type Turn struct {
	Transcript   string
	ResponseText string
	AudioRef     string
}

func (t *Turn) HasAudio() bool {
	return t != nil && t.AudioRef != ""
}
