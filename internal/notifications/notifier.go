package notifications

import "context"

type Message struct {
	// Template names the message kind for metrics and logs.
	Template string
	To       string
	Subject  string
	Text     string
	HTML     string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
