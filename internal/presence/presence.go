package presence

import "context"

// Tracker records which users have recently been active in a conversation.
// It is advisory only: the in-process registry decides fan-out, the tracker
// just backs the "who is online" surface.
type Tracker interface {
	// Touch marks a user as active in a conversation.
	Touch(ctx context.Context, conversationID, userID int64) error

	// Online lists users active in the conversation within the tracker's window.
	Online(ctx context.Context, conversationID int64) ([]int64, error)

	// Clear drops all presence state for a conversation.
	Clear(ctx context.Context, conversationID int64) error

	Close() error
}

// Disabled is the tracker used when no Redis address is configured.
type Disabled struct{}

func (Disabled) Touch(context.Context, int64, int64) error { return nil }

func (Disabled) Online(context.Context, int64) ([]int64, error) { return nil, nil }

func (Disabled) Clear(context.Context, int64) error { return nil }

func (Disabled) Close() error { return nil }
