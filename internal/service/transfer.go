package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/punchamoorthee/walletops/internal/models"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrSelfTransfer        = errors.New("cannot transfer to self")
	ErrNotAPayee           = errors.New("recipient is not a payee")
	ErrIdempotencyConflict = errors.New("request in progress")
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")
)

// Every storage round trip inside a transfer is bounded; on expiry the
// transaction rolls back and the caller observes no balance change.
const storageTimeout = 5 * time.Second

// At RepeatableRead a lock on a row updated by a concurrently committed
// transaction aborts with a serialization failure. The aborted attempt left
// no state (the idempotency reservation rolls back with it), so the whole
// unit is retried and the loser re-reads fresh balances.
const maxTxRetries = 3

type TransferService struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTransferService(db *pgxpool.Pool, logger *zap.Logger) *TransferService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferService{db: db, logger: logger}
}

// ProcessTransfer moves amount from the authenticated sender to a payee
// within a single transaction with deterministic locking. Balance updates,
// the transfer record, and its conservation-pair credit entries commit as
// one unit or not at all.
func (s *TransferService) ProcessTransfer(ctx context.Context, senderID string, req models.TransferRequest, idempotencyKey, reqHash string) (*models.TransferResponse, *models.IdempotencyRecord, error) {
	if req.Amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if senderID == req.RecipientID {
		return nil, nil, ErrSelfTransfer
	}

	var (
		resp   *models.TransferResponse
		replay *models.IdempotencyRecord
		err    error
	)
	for attempt := 0; attempt <= maxTxRetries; attempt++ {
		resp, replay, err = s.processTransferOnce(ctx, senderID, req, idempotencyKey, reqHash)
		if !isSerializationFailure(err) {
			break
		}
		s.logger.Debug("retrying transfer after serialization failure",
			zap.Int("attempt", attempt+1), zap.String("sender_id", senderID))
	}
	return resp, replay, err
}

func (s *TransferService) processTransferOnce(ctx context.Context, senderID string, req models.TransferRequest, idempotencyKey, reqHash string) (*models.TransferResponse, *models.IdempotencyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, storageTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	replay, err := s.reserveIdempotencyKey(ctx, tx, idempotencyKey, reqHash)
	if err != nil {
		return nil, nil, err
	}
	if replay != nil {
		return nil, replay, nil
	}

	// Deterministic locking: always acquire row locks in ascending id order
	// so two transfers between the same pair cannot deadlock.
	firstID, secondID := senderID, req.RecipientID
	if firstID > secondID {
		firstID, secondID = secondID, firstID
	}

	firstBalance, err := lockBalance(ctx, tx, firstID)
	if err != nil {
		return nil, nil, err
	}
	secondBalance, err := lockBalance(ctx, tx, secondID)
	if err != nil {
		return nil, nil, err
	}

	senderBalance, recipientBalance := firstBalance, secondBalance
	if senderID != firstID {
		senderBalance, recipientBalance = secondBalance, firstBalance
	}

	// Payee authorization is re-checked under lock with the balances.
	var isPayee bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM payees WHERE user_id = $1 AND payee_id = $2)",
		senderID, req.RecipientID,
	).Scan(&isPayee)
	if err != nil {
		return nil, nil, fmt.Errorf("payee check failed: %w", err)
	}
	if !isPayee {
		return nil, nil, ErrNotAPayee
	}

	if senderBalance < req.Amount {
		return nil, nil, ErrInsufficientBalance
	}

	transfer := models.Transfer{
		SenderID:              senderID,
		RecipientID:           req.RecipientID,
		Amount:                req.Amount,
		Message:               req.Message,
		Status:                models.StatusCompleted,
		BalanceAfterSender:    senderBalance - req.Amount,
		BalanceAfterRecipient: recipientBalance + req.Amount,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO transfers (sender_id, recipient_id, amount, message, status, balance_after_sender, balance_after_recipient)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, processed_at`,
		transfer.SenderID, transfer.RecipientID, transfer.Amount, transfer.Message,
		transfer.Status, transfer.BalanceAfterSender, transfer.BalanceAfterRecipient,
	).Scan(&transfer.ID, &transfer.ProcessedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("transfer insert failed: %w", err)
	}

	// Conservation pair: one debited entry for the sender, one credited
	// entry for the recipient, equal amounts.
	_, err = tx.Exec(ctx, `
		INSERT INTO credit_history (transfer_id, user_id, counterparty_id, direction, amount, is_top_up)
		VALUES ($1, $2, $3, $4, $6, FALSE), ($1, $3, $2, $5, $6, FALSE)`,
		transfer.ID, senderID, req.RecipientID,
		models.DirectionDebited, models.DirectionCredited, req.Amount,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("credit history insert failed: %w", err)
	}

	_, err = tx.Exec(ctx, "UPDATE users SET balance = balance - $1 WHERE id = $2", req.Amount, senderID)
	if err != nil {
		return nil, nil, fmt.Errorf("sender debit failed: %w", err)
	}
	_, err = tx.Exec(ctx, "UPDATE users SET balance = balance + $1 WHERE id = $2", req.Amount, req.RecipientID)
	if err != nil {
		return nil, nil, fmt.Errorf("recipient credit failed: %w", err)
	}

	resp := &models.TransferResponse{
		Transfer: transfer,
		Entries: []models.CreditEntry{
			{TransferID: transfer.ID, UserID: senderID, CounterpartyID: req.RecipientID, Direction: models.DirectionDebited, Amount: req.Amount},
			{TransferID: transfer.ID, UserID: req.RecipientID, CounterpartyID: senderID, Direction: models.DirectionCredited, Amount: req.Amount},
		},
	}

	if err := s.finalizeIdempotencyKey(ctx, tx, idempotencyKey, transfer.ID, resp); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("tx commit failed: %w", err)
	}

	s.logger.Info("transfer completed",
		zap.Int64("transfer_id", transfer.ID),
		zap.String("sender_id", senderID),
		zap.String("recipient_id", req.RecipientID),
		zap.Int64("amount", req.Amount),
	)

	return resp, nil, nil
}

// ProcessTopUp credits the caller's own balance. Sender and recipient are
// the same account and a single credited entry is written; balance is
// created, not moved, so there is no debit counterpart.
func (s *TransferService) ProcessTopUp(ctx context.Context, userID string, amount int64, idempotencyKey, reqHash string) (*models.TransferResponse, *models.IdempotencyRecord, error) {
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	var (
		resp   *models.TransferResponse
		replay *models.IdempotencyRecord
		err    error
	)
	for attempt := 0; attempt <= maxTxRetries; attempt++ {
		resp, replay, err = s.processTopUpOnce(ctx, userID, amount, idempotencyKey, reqHash)
		if !isSerializationFailure(err) {
			break
		}
		s.logger.Debug("retrying top-up after serialization failure",
			zap.Int("attempt", attempt+1), zap.String("user_id", userID))
	}
	return resp, replay, err
}

func (s *TransferService) processTopUpOnce(ctx context.Context, userID string, amount int64, idempotencyKey, reqHash string) (*models.TransferResponse, *models.IdempotencyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, storageTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	replay, err := s.reserveIdempotencyKey(ctx, tx, idempotencyKey, reqHash)
	if err != nil {
		return nil, nil, err
	}
	if replay != nil {
		return nil, replay, nil
	}

	balance, err := lockBalance(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}

	transfer := models.Transfer{
		SenderID:              userID,
		RecipientID:           userID,
		Amount:                amount,
		Message:               "Top-up",
		Status:                models.StatusCompleted,
		BalanceAfterSender:    balance + amount,
		BalanceAfterRecipient: balance + amount,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO transfers (sender_id, recipient_id, amount, message, status, balance_after_sender, balance_after_recipient)
		VALUES ($1, $1, $2, $3, $4, $5, $5)
		RETURNING id, processed_at`,
		userID, amount, transfer.Message, transfer.Status, transfer.BalanceAfterSender,
	).Scan(&transfer.ID, &transfer.ProcessedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("transfer insert failed: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO credit_history (transfer_id, user_id, counterparty_id, direction, amount, is_top_up)
		VALUES ($1, $2, $2, $3, $4, TRUE)`,
		transfer.ID, userID, models.DirectionCredited, amount,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("credit history insert failed: %w", err)
	}

	_, err = tx.Exec(ctx, "UPDATE users SET balance = balance + $1 WHERE id = $2", amount, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("balance credit failed: %w", err)
	}

	resp := &models.TransferResponse{
		Transfer: transfer,
		Entries: []models.CreditEntry{
			{TransferID: transfer.ID, UserID: userID, CounterpartyID: userID, Direction: models.DirectionCredited, Amount: amount, IsTopUp: true},
		},
	}

	if err := s.finalizeIdempotencyKey(ctx, tx, idempotencyKey, transfer.ID, resp); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("tx commit failed: %w", err)
	}

	s.logger.Info("top-up completed",
		zap.Int64("transfer_id", transfer.ID),
		zap.String("user_id", userID),
		zap.Int64("amount", amount),
	)

	return resp, nil, nil
}

// reserveIdempotencyKey claims the key for this attempt. If the key already
// holds a completed response for the same payload, that response is returned
// for replay; a different payload under the same key is rejected.
func (s *TransferService) reserveIdempotencyKey(ctx context.Context, tx pgx.Tx, key, reqHash string) (*models.IdempotencyRecord, error) {
	var storedStatus int
	var storedBody json.RawMessage
	var storedHash string
	err := tx.QueryRow(ctx,
		"SELECT response_status, response_body, request_hash FROM idempotency_keys WHERE key = $1",
		key,
	).Scan(&storedStatus, &storedBody, &storedHash)

	if err == nil {
		if storedHash != reqHash {
			return nil, ErrIdempotencyMismatch
		}
		return &models.IdempotencyRecord{
			Key:            key,
			Status:         "completed",
			ResponseBody:   storedBody,
			ResponseStatus: storedStatus,
		}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, status) VALUES ($1, $2, 'in_progress')",
		key, reqHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrIdempotencyConflict
		}
		return nil, fmt.Errorf("key reservation failed: %w", err)
	}
	return nil, nil
}

func (s *TransferService) finalizeIdempotencyKey(ctx context.Context, tx pgx.Tx, key string, transferID int64, resp *models.TransferResponse) error {
	respBody, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		"UPDATE idempotency_keys SET status = 'completed', transfer_id = $1, response_status = $2, response_body = $3 WHERE key = $4",
		transferID, http.StatusCreated, respBody, key,
	)
	if err != nil {
		return fmt.Errorf("idempotency update failed: %w", err)
	}
	return nil
}

// isSerializationFailure reports a retryable transaction abort
// (serialization failure or deadlock detected).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// lockBalance acquires the row lock for one account and returns its balance.
func lockBalance(ctx context.Context, tx pgx.Tx, userID string) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, "SELECT balance FROM users WHERE id = $1 FOR UPDATE", userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("lock acquisition failed: %w", err)
	}
	return balance, nil
}
