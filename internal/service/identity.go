package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/contactlink/identity-server/internal/logger"
	"github.com/contactlink/identity-server/internal/model"
)

// Identity reconciles incoming (email, phone) observations against the
// stored contact graph. Every contact belonging to the same customer is
// kept reachable from a single primary record; clusters are strict
// two-level trees, so resolving any member to its root is one hop.
type Identity struct {
	contactStore model.ContactStore
	logger       *logger.Logger
}

func NewIdentity(contactStore model.ContactStore, logger *logger.Logger) *Identity {
	return &Identity{
		contactStore: contactStore,
		logger:       logger,
	}
}

// Identify applies one observation to the contact graph and returns the
// consolidated view of the cluster it lands in. The caller guarantees at
// least one of params.Email, params.Phone is set.
//
// The whole read-merge-write sequence runs in one serializable transaction:
// concurrent calls racing on the same email or phone must not both create a
// primary, and no other transaction may observe a half-applied merge.
func (s *Identity) Identify(ctx context.Context, params model.IdentifyParams) (model.ConsolidatedContact, error) {
	var view model.ConsolidatedContact

	err := s.contactStore.InTx(ctx, func(store model.ContactStore) error {
		v, err := s.reconcile(ctx, store, params)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return model.ConsolidatedContact{}, err
	}

	return view, nil
}

func (s *Identity) reconcile(ctx context.Context, store model.ContactStore, params model.IdentifyParams) (model.ConsolidatedContact, error) {
	matched, err := store.FindCandidates(ctx, params.Email, params.Phone)
	if err != nil {
		return model.ConsolidatedContact{}, fmt.Errorf("failed to find candidate contacts: %w", err)
	}

	if len(matched) == 0 {
		contact, err := store.Create(ctx, model.CreateContactParams{
			Email:      params.Email,
			Phone:      params.Phone,
			Precedence: model.LinkPrecedencePrimary,
		})
		if err != nil {
			return model.ConsolidatedContact{}, fmt.Errorf("failed to create primary contact: %w", err)
		}
		return consolidate([]model.Contact{contact}), nil
	}

	roots, err := s.resolveRoots(ctx, store, matched)
	if err != nil {
		return model.ConsolidatedContact{}, err
	}

	target := roots[0]
	for _, stale := range roots[1:] {
		// Reparent before demote: the stale root's secondaries must never
		// point at a contact that is itself secondary, even inside this
		// transaction.
		if err := store.Reparent(ctx, stale.ID, target.ID); err != nil {
			return model.ConsolidatedContact{}, fmt.Errorf("failed to reparent secondaries of contact %d: %w", stale.ID, err)
		}
		if err := store.Demote(ctx, stale.ID, target.ID); err != nil {
			return model.ConsolidatedContact{}, fmt.Errorf("failed to demote contact %d: %w", stale.ID, err)
		}
	}

	cluster, err := store.FindCluster(ctx, target.ID)
	if err != nil {
		return model.ConsolidatedContact{}, fmt.Errorf("failed to load cluster %d: %w", target.ID, err)
	}
	if len(cluster) == 0 {
		return model.ConsolidatedContact{}, fmt.Errorf("cluster %d has no members", target.ID)
	}

	if carriesNewInformation(cluster, params) {
		if _, err := store.Create(ctx, model.CreateContactParams{
			Email:      params.Email,
			Phone:      params.Phone,
			LinkedID:   &target.ID,
			Precedence: model.LinkPrecedenceSecondary,
		}); err != nil {
			return model.ConsolidatedContact{}, fmt.Errorf("failed to create secondary contact: %w", err)
		}

		cluster, err = store.FindCluster(ctx, target.ID)
		if err != nil {
			return model.ConsolidatedContact{}, fmt.Errorf("failed to reload cluster %d: %w", target.ID, err)
		}
	}

	return consolidate(cluster), nil
}

// resolveRoots maps every matched contact to its cluster root and returns
// the distinct roots ordered oldest first (created_at, then id). The first
// element is the surviving root of any merge.
func (s *Identity) resolveRoots(ctx context.Context, store model.ContactStore, matched []model.Contact) ([]model.Contact, error) {
	seen := make(map[int64]struct{}, len(matched))
	roots := make([]model.Contact, 0, len(matched))

	for _, contact := range matched {
		root := contact
		if !contact.IsPrimary() && contact.LinkedID != nil {
			resolved, err := store.GetByID(ctx, *contact.LinkedID)
			switch {
			case errors.Is(err, model.ErrNotFound):
				// Dangling link. Treat the contact as its own root so the
				// request still completes; operators see the anomaly in logs.
				s.logger.Warn("contact links to a missing root, treating as root",
					"contact_id", contact.ID,
					"linked_id", *contact.LinkedID)
			case err != nil:
				return nil, fmt.Errorf("failed to resolve root of contact %d: %w", contact.ID, err)
			default:
				root = resolved
			}
		}

		if _, ok := seen[root.ID]; ok {
			continue
		}
		seen[root.ID] = struct{}{}
		roots = append(roots, root)
	}

	sort.Slice(roots, func(i, j int) bool {
		if roots[i].CreatedAt.Equal(roots[j].CreatedAt) {
			return roots[i].ID < roots[j].ID
		}
		return roots[i].CreatedAt.Before(roots[j].CreatedAt)
	})

	return roots, nil
}

// carriesNewInformation reports whether the observation holds an email or
// phone not yet present anywhere in the cluster. Coverage is per field, not
// per row: an email known from one member and a phone known from another
// together make the observation fully known. A field the caller did not
// supply contributes nothing.
func carriesNewInformation(cluster []model.Contact, params model.IdentifyParams) bool {
	emailKnown := params.Email == nil
	phoneKnown := params.Phone == nil

	for _, member := range cluster {
		if !emailKnown && member.Email != nil && *member.Email == *params.Email {
			emailKnown = true
		}
		if !phoneKnown && member.Phone != nil && *member.Phone == *params.Phone {
			phoneKnown = true
		}
	}

	return !emailKnown || !phoneKnown
}

// consolidate builds the cluster view from cluster members ordered root
// first. Emails and phones keep first occurrence, so the root's values
// always lead.
func consolidate(cluster []model.Contact) model.ConsolidatedContact {
	view := model.ConsolidatedContact{
		PrimaryID:    cluster[0].ID,
		Emails:       []string{},
		Phones:       []string{},
		SecondaryIDs: []int64{},
	}

	seenEmails := make(map[string]struct{})
	seenPhones := make(map[string]struct{})

	for i, member := range cluster {
		if member.Email != nil {
			if _, ok := seenEmails[*member.Email]; !ok {
				seenEmails[*member.Email] = struct{}{}
				view.Emails = append(view.Emails, *member.Email)
			}
		}
		if member.Phone != nil {
			if _, ok := seenPhones[*member.Phone]; !ok {
				seenPhones[*member.Phone] = struct{}{}
				view.Phones = append(view.Phones, *member.Phone)
			}
		}
		if i > 0 {
			view.SecondaryIDs = append(view.SecondaryIDs, member.ID)
		}
	}

	return view
}
