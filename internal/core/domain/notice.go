package domain

// Notice is a transient, user-dismissible message produced when an action
// fails recoverably. It is never persisted; the next successful transition or
// an explicit dismissal clears it.
type Notice struct {
	Message string `json:"message"`
}

// NewNotice builds a Notice from an error or a plain message.
func NewNotice(msg string) *Notice {
	if msg == "" {
		return nil
	}
	return &Notice{Message: msg}
}
