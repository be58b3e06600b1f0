package notifier

import "context"

// TextNotifier is the only notification contract the rest of the code sees.
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// Nop drops every message; used when Telegram is disabled.
type Nop struct{}

func (Nop) SendText(context.Context, string) error { return nil }
