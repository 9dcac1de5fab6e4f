// Package ledger implements the HTTP client for the budget ledger API
// and the canonical error normalization applied at that boundary.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fintally/tally/internal/common"
	"github.com/fintally/tally/internal/model"
	"github.com/fintally/tally/internal/service"
)

var _ service.LedgerAccess = (*Client)(nil)

// Client talks to a YNAB-style budget ledger API. Amounts on the wire
// are milliunits, matching the engine's internal representation.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	retry      service.RetryOptions
}

// NewClient creates a ledger API client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// Wire types. The API wraps every payload in a "data" envelope.

type accountEnvelope struct {
	Data struct {
		Account wireAccount `json:"account"`
	} `json:"data"`
}

type wireAccount struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ClearedBalance   int64  `json:"cleared_balance"`
	UnclearedBalance int64  `json:"uncleared_balance"`
	Balance          int64  `json:"balance"`
}

type transactionsEnvelope struct {
	Data struct {
		Transactions       []wireTransaction `json:"transactions"`
		DuplicateImportIDs []string          `json:"duplicate_import_ids"`
	} `json:"data"`
}

type wireTransaction struct {
	ID           string `json:"id,omitempty"`
	AccountID    string `json:"account_id,omitempty"`
	Date         string `json:"date"`
	Amount       int64  `json:"amount"`
	PayeeName    string `json:"payee_name,omitempty"`
	CategoryName string `json:"category_name,omitempty"`
	Memo         string `json:"memo,omitempty"`
	Cleared      string `json:"cleared,omitempty"`
	Approved     bool   `json:"approved"`
	ImportID     string `json:"import_id,omitempty"`
}

type transactionsPayload struct {
	Transactions []wireTransaction `json:"transactions"`
}

type singleTransactionPayload struct {
	Transaction wireTransaction `json:"transaction"`
}

type singleTransactionEnvelope struct {
	Data struct {
		Transaction wireTransaction `json:"transaction"`
	} `json:"data"`
}

const dateLayout = "2006-01-02"

func toModel(w wireTransaction) (model.LedgerTransaction, error) {
	date, err := time.Parse(dateLayout, w.Date)
	if err != nil {
		return model.LedgerTransaction{}, fmt.Errorf("invalid transaction date %q: %w", w.Date, err)
	}
	return model.LedgerTransaction{
		ID:           w.ID,
		Date:         date,
		AmountMilli:  w.Amount,
		PayeeName:    w.PayeeName,
		CategoryName: w.CategoryName,
		Memo:         w.Memo,
		Cleared:      model.ClearedStatus(w.Cleared),
		Approved:     w.Approved,
		ImportID:     w.ImportID,
	}, nil
}

func fromDraft(d service.TransactionDraft) wireTransaction {
	return wireTransaction{
		AccountID: d.AccountID,
		Date:      d.Date.Format(dateLayout),
		Amount:    d.AmountMilli,
		PayeeName: d.PayeeName,
		Memo:      d.Memo,
		Cleared:   string(d.Cleared),
		Approved:  d.Approved,
		ImportID:  d.ImportID,
	}
}

// GetAccount fetches the current snapshot for one account.
func (c *Client) GetAccount(ctx context.Context, budgetID, accountID string) (*service.AccountSnapshot, error) {
	var env accountEnvelope
	path := fmt.Sprintf("/budgets/%s/accounts/%s", budgetID, accountID)
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	a := env.Data.Account
	return &service.AccountSnapshot{
		ID:                    a.ID,
		Name:                  a.Name,
		ClearedBalanceMilli:   a.ClearedBalance,
		UnclearedBalanceMilli: a.UnclearedBalance,
		BalanceMilli:          a.Balance,
	}, nil
}

// GetTransactions fetches all transactions for an account, optionally
// restricted to those on or after since.
func (c *Client) GetTransactions(ctx context.Context, budgetID, accountID string, since *time.Time) ([]model.LedgerTransaction, error) {
	path := fmt.Sprintf("/budgets/%s/accounts/%s/transactions", budgetID, accountID)
	if since != nil {
		path += "?since_date=" + since.Format(dateLayout)
	}
	var env transactionsEnvelope
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	txns := make([]model.LedgerTransaction, 0, len(env.Data.Transactions))
	for _, w := range env.Data.Transactions {
		t, err := toModel(w)
		if err != nil {
			return nil, normalize(err, 0)
		}
		txns = append(txns, t)
	}
	return txns, nil
}

// CreateTransaction creates a single ledger entry.
func (c *Client) CreateTransaction(ctx context.Context, budgetID string, draft service.TransactionDraft) (*model.LedgerTransaction, error) {
	payload := singleTransactionPayload{Transaction: fromDraft(draft)}
	var env singleTransactionEnvelope
	path := fmt.Sprintf("/budgets/%s/transactions", budgetID)
	if err := c.do(ctx, http.MethodPost, path, payload, &env); err != nil {
		return nil, err
	}
	t, err := toModel(env.Data.Transaction)
	if err != nil {
		return nil, normalize(err, 0)
	}
	return &t, nil
}

// CreateTransactions submits a batch of drafts in one call. Drafts the
// ledger recognizes as already imported come back in
// DuplicateImportIDs rather than as created entities.
func (c *Client) CreateTransactions(ctx context.Context, budgetID string, drafts []service.TransactionDraft) (*service.BulkCreateResult, error) {
	payload := transactionsPayload{Transactions: make([]wireTransaction, len(drafts))}
	for i, d := range drafts {
		payload.Transactions[i] = fromDraft(d)
	}
	var env transactionsEnvelope
	path := fmt.Sprintf("/budgets/%s/transactions", budgetID)
	if err := c.do(ctx, http.MethodPost, path, payload, &env); err != nil {
		return nil, err
	}
	result := &service.BulkCreateResult{
		Created:            make([]model.LedgerTransaction, 0, len(env.Data.Transactions)),
		DuplicateImportIDs: env.Data.DuplicateImportIDs,
	}
	for _, w := range env.Data.Transactions {
		t, err := toModel(w)
		if err != nil {
			return nil, normalize(err, 0)
		}
		result.Created = append(result.Created, t)
	}
	return result, nil
}

// UpdateTransactions applies a batch of partial updates in one call.
func (c *Client) UpdateTransactions(ctx context.Context, budgetID string, updates []service.TransactionUpdate) ([]model.LedgerTransaction, error) {
	payload := transactionsPayload{Transactions: make([]wireTransaction, len(updates))}
	for i, u := range updates {
		w := wireTransaction{ID: u.ID}
		if u.Cleared != nil {
			w.Cleared = string(*u.Cleared)
		}
		if u.Date != nil {
			w.Date = u.Date.Format(dateLayout)
		}
		payload.Transactions[i] = w
	}
	var env transactionsEnvelope
	path := fmt.Sprintf("/budgets/%s/transactions", budgetID)
	if err := c.do(ctx, http.MethodPatch, path, payload, &env); err != nil {
		return nil, err
	}
	txns := make([]model.LedgerTransaction, 0, len(env.Data.Transactions))
	for _, w := range env.Data.Transactions {
		t, err := toModel(w)
		if err != nil {
			return nil, normalize(err, 0)
		}
		txns = append(txns, t)
	}
	return txns, nil
}

// do performs one API call, retrying transient failures with backoff.
// Fatal errors are never retried. Every failure is normalized into the
// canonical *Error before it escapes this package.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return normalize(fmt.Errorf("encode request: %w", err), 0)
		}
	}

	return common.WithRetry(ctx, func() error {
		err := c.roundTrip(ctx, method, path, encoded, out)
		if err != nil && IsFatal(err) {
			return &common.RetryableError{Err: err, Retryable: false}
		}
		return err
	}, c.retry)
}

// roundTrip performs a single HTTP exchange.
func (c *Client) roundTrip(ctx context.Context, method, path string, encoded []byte, out any) error {
	var reqBody io.Reader
	if encoded != nil {
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return normalize(err, 0)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	slog.Debug("ledger API request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport-level failures are transient, not fatal.
		return normalize(err, 0)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := string(bytes.TrimSpace(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return normalize(fmt.Errorf("%s", msg), resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return normalize(fmt.Errorf("decode response: %w", err), 0)
		}
	}
	return nil
}
