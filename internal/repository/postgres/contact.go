package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/contactlink/identity-server/internal/model"
)

var _ model.ContactStore = (*ContactRepository)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// repository code runs inside and outside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type ContactRepository struct {
	db *Connection // nil when bound to a transaction
	q  querier
}

func NewContactRepository(db *Connection) *ContactRepository {
	return &ContactRepository{
		db: db,
		q:  db.Pool,
	}
}

const contactColumns = `id, email, phone_number, linked_id, link_precedence, created_at, updated_at, deleted_at`

func (r *ContactRepository) FindCandidates(ctx context.Context, email, phone *string) ([]model.Contact, error) {
	if email == nil && phone == nil {
		return nil, nil
	}

	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
		  AND (($1::text IS NOT NULL AND email = $1) OR ($2::text IS NOT NULL AND phone_number = $2))
		ORDER BY created_at ASC, id ASC`

	rows, err := r.q.Query(ctx, query, email, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanContacts(rows)
}

func (r *ContactRepository) GetByID(ctx context.Context, id int64) (model.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE id = $1 AND deleted_at IS NULL`

	contact, err := scanContact(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Contact{}, model.ErrNotFound
		}
		return model.Contact{}, err
	}

	return contact, nil
}

func (r *ContactRepository) FindCluster(ctx context.Context, rootID int64) ([]model.Contact, error) {
	// The (id <> $1) sort key puts the root first regardless of timestamps.
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE (id = $1 OR linked_id = $1) AND deleted_at IS NULL
		ORDER BY (id <> $1), created_at ASC, id ASC`

	rows, err := r.q.Query(ctx, query, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanContacts(rows)
}

func (r *ContactRepository) Create(ctx context.Context, params model.CreateContactParams) (model.Contact, error) {
	query := `
		INSERT INTO contacts (email, phone_number, linked_id, link_precedence)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + contactColumns

	contact, err := scanContact(r.q.QueryRow(ctx, query,
		params.Email, params.Phone, params.LinkedID, string(params.Precedence),
	))
	if err != nil {
		return model.Contact{}, err
	}

	return contact, nil
}

func (r *ContactRepository) Demote(ctx context.Context, contactID, newRootID int64) error {
	query := `
		UPDATE contacts
		SET link_precedence = 'secondary', linked_id = $2, updated_at = NOW()
		WHERE id = $1`

	cmd, err := r.q.Exec(ctx, query, contactID, newRootID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrNotFound
	}

	return nil
}

func (r *ContactRepository) Reparent(ctx context.Context, oldRootID, newRootID int64) error {
	query := `
		UPDATE contacts
		SET linked_id = $2, updated_at = NOW()
		WHERE linked_id = $1`

	_, err := r.q.Exec(ctx, query, oldRootID, newRootID)
	return err
}

// InTx runs fn against a repository bound to one serializable transaction.
// When the repository is already transaction-bound, fn runs in the ambient
// transaction.
func (r *ContactRepository) InTx(ctx context.Context, fn func(model.ContactStore) error) error {
	if r.db == nil {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&ContactRepository{q: tx}); err != nil {
		return asTxConflict(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return asTxConflict(err)
	}

	return nil
}

// Postgres reports serialization failures and deadlocks with these
// SQLSTATE codes; both are safe to retry from the top of identify.
const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
)

func asTxConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == sqlstateSerializationFailure || pgErr.Code == sqlstateDeadlockDetected {
			return fmt.Errorf("%w: %s", model.ErrTxConflict, pgErr.Message)
		}
	}
	return err
}

func scanContact(row pgx.Row) (model.Contact, error) {
	var c model.Contact
	err := row.Scan(
		&c.ID, &c.Email, &c.Phone, &c.LinkedID, &c.Precedence,
		&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
	)
	if err != nil {
		return model.Contact{}, err
	}
	return c, nil
}

func scanContacts(rows pgx.Rows) ([]model.Contact, error) {
	var contacts []model.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return contacts, nil
}
