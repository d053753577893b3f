package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/walletops/internal/models"
)

type Store struct {
	Db *pgxpool.Pool
}

func New(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// Migrate applies pending schema migrations from the given source URL
// (e.g. file://migrations) against the given database URL.
func Migrate(sourceURL, databaseURL string) error {
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("migration init failed: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

const userColumns = `id, email, user_name, first_name, last_name, phone_number, age, image_url, is_verified, balance, password_hash, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Email, &u.UserName, &u.FirstName, &u.LastName,
		&u.PhoneNumber, &u.Age, &u.ImageURL, &u.IsVerified,
		&u.Balance, &u.PasswordHash, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new unverified user with zero balance.
func (s *Store) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	row := s.Db.QueryRow(ctx, `
		INSERT INTO users (id, email, user_name, first_name, last_name, phone_number, age, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+userColumns,
		u.ID, u.Email, u.UserName, u.FirstName, u.LastName, u.PhoneNumber, u.Age, u.ImageURL,
	)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailExists
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.Db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.Db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// MarkVerified flips the verification flag after a successful OTP check.
func (s *Store) MarkVerified(ctx context.Context, email string) error {
	tag, err := s.Db.Exec(ctx,
		`UPDATE users SET is_verified = TRUE, updated_at = now() WHERE email = $1`, email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Store) SetPassword(ctx context.Context, email, passwordHash string) error {
	tag, err := s.Db.Exec(ctx,
		`UPDATE users SET password_hash = $1, updated_at = now() WHERE email = $2`, passwordHash, email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateProfileInput carries the editable profile fields.
type UpdateProfileInput struct {
	UserName    string
	FirstName   string
	LastName    string
	PhoneNumber string
	Age         int
}

func (s *Store) UpdateProfile(ctx context.Context, id string, in UpdateProfileInput) (*models.User, error) {
	row := s.Db.QueryRow(ctx, `
		UPDATE users
		SET user_name = $1, first_name = $2, last_name = $3, phone_number = $4, age = $5, updated_at = now()
		WHERE id = $6
		RETURNING `+userColumns,
		in.UserName, in.FirstName, in.LastName, in.PhoneNumber, in.Age, id,
	)
	return scanUser(row)
}

// AddPayee authorizes payeeID as a transfer destination for userID.
func (s *Store) AddPayee(ctx context.Context, userID, payeeID string) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO payees (user_id, payee_id) VALUES ($1, $2)`, userID, payeeID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrPayeeExists
		}
		return err
	}
	return nil
}

func (s *Store) RemovePayee(ctx context.Context, userID, payeeID string) error {
	tag, err := s.Db.Exec(ctx,
		`DELETE FROM payees WHERE user_id = $1 AND payee_id = $2`, userID, payeeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPayeeNotFound
	}
	return nil
}

// ListPayees returns the profiles of everyone the user has authorized.
func (s *Store) ListPayees(ctx context.Context, userID string) ([]models.User, error) {
	rows, err := s.Db.Query(ctx, `
		SELECT `+userColumns+`
		FROM users u
		JOIN payees p ON p.payee_id = u.id
		WHERE p.user_id = $1
		ORDER BY p.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payees := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		payees = append(payees, *u)
	}
	return payees, rows.Err()
}

const transferColumns = `id, sender_id, recipient_id, amount, message, status, balance_after_sender, balance_after_recipient, processed_at`

func scanTransfer(row pgx.Row) (*models.Transfer, error) {
	var t models.Transfer
	err := row.Scan(
		&t.ID, &t.SenderID, &t.RecipientID, &t.Amount, &t.Message,
		&t.Status, &t.BalanceAfterSender, &t.BalanceAfterRecipient, &t.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// GetTransferForUser retrieves a transfer only if the user is a participant.
func (s *Store) GetTransferForUser(ctx context.Context, id int64, userID string) (*models.Transfer, error) {
	return scanTransfer(s.Db.QueryRow(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE id = $1 AND (sender_id = $2 OR recipient_id = $2)`, id, userID))
}

// ListTransfers returns every transfer the user participated in, newest first.
func (s *Store) ListTransfers(ctx context.Context, userID string) ([]models.Transfer, error) {
	rows, err := s.Db.Query(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE sender_id = $1 OR recipient_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := []models.Transfer{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *t)
	}
	return transfers, rows.Err()
}

// ListCreditHistory returns the user's ledger entries, newest first.
func (s *Store) ListCreditHistory(ctx context.Context, userID string) ([]models.CreditEntry, error) {
	rows, err := s.Db.Query(ctx, `
		SELECT id, transfer_id, user_id, counterparty_id, direction, amount, is_top_up, created_at
		FROM credit_history
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.CreditEntry{}
	for rows.Next() {
		var e models.CreditEntry
		if err := rows.Scan(
			&e.ID, &e.TransferID, &e.UserID, &e.CounterpartyID,
			&e.Direction, &e.Amount, &e.IsTopUp, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) CreateSupportMessage(ctx context.Context, email, subject, message string) (*models.SupportMessage, error) {
	var m models.SupportMessage
	err := s.Db.QueryRow(ctx, `
		INSERT INTO support_messages (email, subject, message)
		VALUES ($1, $2, $3)
		RETURNING id, email, subject, message, created_at`,
		email, subject, message,
	).Scan(&m.ID, &m.Email, &m.Subject, &m.Message, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListSupportMessages(ctx context.Context) ([]models.SupportMessage, error) {
	rows, err := s.Db.Query(ctx, `
		SELECT id, email, subject, message, created_at
		FROM support_messages
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.SupportMessage{}
	for rows.Next() {
		var m models.SupportMessage
		if err := rows.Scan(&m.ID, &m.Email, &m.Subject, &m.Message, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}
