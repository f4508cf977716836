package models

// MutationKind enumerates optimistic mutation kinds.
type MutationKind string

const (
	MutationSend   MutationKind = "send"
	MutationEdit   MutationKind = "edit"
	MutationDelete MutationKind = "delete"
	MutationLike   MutationKind = "like"
)

// MutationStatus tracks a pending mutation's lifecycle.
type MutationStatus string

const (
	MutationPending MutationStatus = "pending"
	MutationAcked   MutationStatus = "acked"
	MutationFailed  MutationStatus = "failed"
)

// PendingMutation is the ephemeral record of an optimistic local change
// awaiting server acknowledgment. It is owned exclusively by the mutation
// handler, never persisted, and removed once acked or rolled back.
type PendingMutation struct {
	LocalID string
	Kind    MutationKind
	// TargetMessageID is empty for sends (the target does not exist yet).
	TargetMessageID string
	ConversationID  string
	Status          MutationStatus
}
