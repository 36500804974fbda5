// ABOUTME: GraphQL client for the Monarch Money API
// ABOUTME: Binds a bearer token at construction; each operation is one POST to /graphql

package monarch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the Monarch Money API root.
	DefaultBaseURL = "https://api.monarchmoney.com"

	defaultTimeout = 30 * time.Second
)

// API is the set of Monarch Money operations used by the tool layer.
// Implemented by Client; faked in tests.
type API interface {
	GetAccounts(ctx context.Context) (*AccountsResult, error)
	GetTransactions(ctx context.Context, filter TransactionFilter) (*TransactionsResult, error)
	GetBudgets(ctx context.Context) (*BudgetsResult, error)
	GetCashflow(ctx context.Context, dates DateRange) (json.RawMessage, error)
	GetAccountHoldings(ctx context.Context, accountID string) (json.RawMessage, error)
	CreateTransaction(ctx context.Context, input CreateTransactionInput) (json.RawMessage, error)
	UpdateTransaction(ctx context.Context, input UpdateTransactionInput) (json.RawMessage, error)
	RequestAccountsRefresh(ctx context.Context) (json.RawMessage, error)
}

// Client issues GraphQL operations against the Monarch Money API.
// Construction is cheap: it only binds the token. Token validity surfaces
// when an operation is invoked and the upstream rejects it.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root (used in tests and for staging).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithTimeout overrides the HTTP request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: timeout}
	}
}

// New creates a client bound to the given bearer token.
// The returned client is safe for concurrent use.
func New(token string, opts ...Option) *Client {
	c := &Client{
		token:      token,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- GraphQL wire types ---

type graphqlRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

// do executes one GraphQL operation and unmarshals the data payload into out.
// When out is nil the data payload is discarded.
func (c *Client) do(ctx context.Context, operation, query string, variables map[string]any, out any) error {
	body := graphqlRequest{
		OperationName: operation,
		Query:         query,
		Variables:     variables,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("monarch: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("monarch: create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("monarch: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("monarch: read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("monarch: %s returned HTTP %d: %s", operation, resp.StatusCode, summarize(respBody))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(respBody, &gqlResp); err != nil {
		return fmt.Errorf("monarch: decode response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return fmt.Errorf("monarch: %s failed: %s", operation, gqlResp.Errors[0].Message)
	}

	if out != nil {
		if err := json.Unmarshal(gqlResp.Data, out); err != nil {
			return fmt.Errorf("monarch: decode %s data: %w", operation, err)
		}
	}

	return nil
}

// summarize truncates an error body to keep upstream messages readable.
func summarize(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// --- Result types ---

// NameRef is a nested object carrying only a name.
type NameRef struct {
	Name string `json:"name"`
}

// Account is one account as returned by GetAccounts.
type Account struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	DisplayName    *string  `json:"displayName"`
	Type           *NameRef `json:"type"`
	CurrentBalance float64  `json:"currentBalance"`
	Institution    *NameRef `json:"institution"`
	IsActive       *bool    `json:"isActive"`
	DeactivatedAt  *string  `json:"deactivatedAt"`
}

// AccountsResult is the GetAccounts payload.
type AccountsResult struct {
	Accounts []Account `json:"accounts"`
}

// AccountRef is the account reference embedded in a transaction.
type AccountRef struct {
	DisplayName *string `json:"displayName"`
}

// Transaction is one transaction as returned by GetTransactions.
type Transaction struct {
	ID          string     `json:"id"`
	Date        string     `json:"date"`
	Amount      float64    `json:"amount"`
	Description string     `json:"description"`
	Category    *NameRef   `json:"category"`
	Account     *AccountRef `json:"account"`
	Merchant    *NameRef   `json:"merchant"`
	IsPending   *bool      `json:"isPending"`
}

// TransactionPage is a page of transaction results.
type TransactionPage struct {
	TotalCount int           `json:"totalCount"`
	Results    []Transaction `json:"results"`
}

// TransactionsResult is the GetTransactions payload.
// AllTransactions may be nil when the upstream omits it.
type TransactionsResult struct {
	AllTransactions *TransactionPage `json:"allTransactions"`
}

// Budget is one budget as returned by GetBudgets.
type Budget struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Amount    float64  `json:"amount"`
	Spent     float64  `json:"spent"`
	Remaining float64  `json:"remaining"`
	Category  *NameRef `json:"category"`
	Period    string   `json:"period"`
}

// BudgetsResult is the GetBudgets payload.
type BudgetsResult struct {
	Budgets []Budget `json:"budgets"`
}

// TransactionFilter narrows a GetTransactions call.
type TransactionFilter struct {
	Limit     int
	Offset    int
	StartDate *string
	EndDate   *string
	AccountID *string
}

// DateRange bounds a cashflow query. Either side may be nil.
type DateRange struct {
	StartDate *string
	EndDate   *string
}

// CreateTransactionInput holds the fields for CreateTransaction.
type CreateTransactionInput struct {
	AccountID    string
	Amount       float64
	Description  string
	Date         string
	CategoryID   *string
	MerchantName *string
}

// UpdateTransactionInput holds the fields for UpdateTransaction.
// Nil fields are left unchanged upstream.
type UpdateTransactionInput struct {
	TransactionID string
	Amount        *float64
	Description   *string
	CategoryID    *string
	Date          *string
}

// --- Operations ---

// GetAccounts lists all accounts.
func (c *Client) GetAccounts(ctx context.Context) (*AccountsResult, error) {
	var result AccountsResult
	if err := c.do(ctx, "GetAccounts", queryGetAccounts, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTransactions lists transactions matching the filter.
func (c *Client) GetTransactions(ctx context.Context, filter TransactionFilter) (*TransactionsResult, error) {
	variables := map[string]any{
		"limit":  filter.Limit,
		"offset": filter.Offset,
	}

	filters := map[string]any{}
	if filter.StartDate != nil {
		filters["startDate"] = *filter.StartDate
	}
	if filter.EndDate != nil {
		filters["endDate"] = *filter.EndDate
	}
	if filter.AccountID != nil {
		filters["accounts"] = []string{*filter.AccountID}
	}
	variables["filters"] = filters

	var result TransactionsResult
	if err := c.do(ctx, "GetTransactionsList", queryGetTransactions, variables, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBudgets lists budgets for the current period.
func (c *Client) GetBudgets(ctx context.Context) (*BudgetsResult, error) {
	var result BudgetsResult
	if err := c.do(ctx, "GetBudgets", queryGetBudgets, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetCashflow returns the cashflow summary for a date range.
// The upstream shape is passed through unprojected.
func (c *Client) GetCashflow(ctx context.Context, dates DateRange) (json.RawMessage, error) {
	variables := map[string]any{}
	if dates.StartDate != nil {
		variables["startDate"] = *dates.StartDate
	}
	if dates.EndDate != nil {
		variables["endDate"] = *dates.EndDate
	}

	var result json.RawMessage
	if err := c.do(ctx, "GetCashflow", queryGetCashflow, variables, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetAccountHoldings returns investment holdings for one account, unprojected.
func (c *Client) GetAccountHoldings(ctx context.Context, accountID string) (json.RawMessage, error) {
	variables := map[string]any{
		"accountId": accountID,
	}

	var result json.RawMessage
	if err := c.do(ctx, "GetAccountHoldings", queryGetAccountHoldings, variables, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateTransaction creates a manual transaction and returns the raw result.
func (c *Client) CreateTransaction(ctx context.Context, input CreateTransactionInput) (json.RawMessage, error) {
	fields := map[string]any{
		"accountId":   input.AccountID,
		"amount":      input.Amount,
		"description": input.Description,
		"date":        input.Date,
	}
	if input.CategoryID != nil {
		fields["categoryId"] = *input.CategoryID
	}
	if input.MerchantName != nil {
		fields["merchantName"] = *input.MerchantName
	}

	var result json.RawMessage
	err := c.do(ctx, "CreateTransaction", mutationCreateTransaction, map[string]any{"input": fields}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateTransaction updates fields of an existing transaction and returns the raw result.
func (c *Client) UpdateTransaction(ctx context.Context, input UpdateTransactionInput) (json.RawMessage, error) {
	fields := map[string]any{
		"id": input.TransactionID,
	}
	if input.Amount != nil {
		fields["amount"] = *input.Amount
	}
	if input.Description != nil {
		fields["description"] = *input.Description
	}
	if input.CategoryID != nil {
		fields["categoryId"] = *input.CategoryID
	}
	if input.Date != nil {
		fields["date"] = *input.Date
	}

	var result json.RawMessage
	err := c.do(ctx, "UpdateTransaction", mutationUpdateTransaction, map[string]any{"input": fields}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RequestAccountsRefresh asks the upstream to refresh all linked accounts.
// Returns the raw acknowledgment.
func (c *Client) RequestAccountsRefresh(ctx context.Context) (json.RawMessage, error) {
	var result json.RawMessage
	if err := c.do(ctx, "RequestAccountsRefresh", mutationRequestRefresh, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Ensure Client implements API.
var _ API = (*Client)(nil)
