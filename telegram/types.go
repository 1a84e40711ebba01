package telegram

// BotProfile is the bot's own identity, as returned by getMe.
type BotProfile struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"first_name"`
}

// Update is one long-poll result from getUpdates.
type Update struct {
	ID      int64    `json:"update_id"`
	Message *Message `json:"message,omitempty"`
}

// Message is an incoming chat message.
type Message struct {
	ID   int64   `json:"message_id"`
	From *Sender `json:"from,omitempty"`
	Chat Chat    `json:"chat"`
	Text string  `json:"text,omitempty"`
}

// Sender identifies who sent a message.
type Sender struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// Chat is the conversation a message belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}
