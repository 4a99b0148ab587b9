package slackio

// Message is one inbound Slack message event in the command channel.
type Message struct {
	ChannelID string
	UserID    string
	Text      string
	TS        string
	ThreadTS  string
	Subtype   string
	Files     []File
}

// File is one file shared on a Message, as Slack's API represents it.
type File struct {
	Name       string
	MimeType   string
	URLPrivate string
	Size       int64
}

// Reaction is one inbound reaction_added event.
type Reaction struct {
	ChannelID string
	UserID    string
	Reaction  string
	ItemTS    string
}

// Batch is what one poll cycle or one drained burst of socket events yields.
type Batch struct {
	Messages  []Message
	Reactions []Reaction
}
