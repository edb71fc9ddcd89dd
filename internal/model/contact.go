package model

import (
	"context"
	"time"
)

// ContactStore defines persistence operations for contacts.
type ContactStore interface {
	// FindCandidates returns non-deleted contacts whose email or phone
	// matches the given values, ordered by created_at ascending. Either
	// argument may be nil; with both nil the result is empty.
	FindCandidates(ctx context.Context, email, phone *string) ([]Contact, error)
	GetByID(ctx context.Context, id int64) (Contact, error)
	// FindCluster returns the root contact followed by every contact
	// linked to it, ordered by created_at ascending after the root.
	FindCluster(ctx context.Context, rootID int64) ([]Contact, error)
	Create(ctx context.Context, params CreateContactParams) (Contact, error)
	// Demote turns a former root into a secondary of newRootID.
	Demote(ctx context.Context, contactID, newRootID int64) error
	// Reparent re-points every contact linked to oldRootID at newRootID.
	// Safe to call when no rows match.
	Reparent(ctx context.Context, oldRootID, newRootID int64) error
	// InTx runs fn against a store view bound to a single serializable
	// transaction. A serialization failure surfaces as ErrTxConflict.
	InTx(ctx context.Context, fn func(ContactStore) error) error
}

// Contact represents a stored contact record.
type Contact struct {
	ID         int64
	Email      *string
	Phone      *string
	LinkedID   *int64
	Precedence LinkPrecedence
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// IsPrimary reports whether the contact is a cluster root.
func (c Contact) IsPrimary() bool {
	return c.Precedence == LinkPrecedencePrimary
}

// LinkPrecedence enumerates contact roles within a cluster.
type LinkPrecedence string

const (
	// LinkPrecedencePrimary marks a cluster root.
	LinkPrecedencePrimary LinkPrecedence = "primary"
	// LinkPrecedenceSecondary marks a non-root cluster member.
	LinkPrecedenceSecondary LinkPrecedence = "secondary"
)

// CreateContactParams contains parameters to insert a contact.
type CreateContactParams struct {
	Email      *string
	Phone      *string
	LinkedID   *int64
	Precedence LinkPrecedence
}

// IdentifyParams carries one (email, phone) observation. The caller
// guarantees at least one field is set.
type IdentifyParams struct {
	Email *string
	Phone *string
}

// ConsolidatedContact is the merged view of one cluster. Emails and
// phones list the root's values first, deduplicated keeping the first
// occurrence; SecondaryIDs follows cluster order.
type ConsolidatedContact struct {
	PrimaryID    int64
	Emails       []string
	Phones       []string
	SecondaryIDs []int64
}
