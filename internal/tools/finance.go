// ABOUTME: The Monarch Money tool catalog: definitions, handlers, and projections
// ABOUTME: Projections reduce upstream payloads to the fields agents actually need

package tools

import (
	"context"
	"fmt"
)

// Catalog returns the full Monarch Money tool set. authURL is the page
// where users complete the login flow; it appears in setup guidance.
func Catalog(authURL string) []*Tool {
	return []*Tool{
		{
			Name:        "setup_authentication",
			Description: "Get instructions for connecting your Monarch Money account",
			FailureVerb: "showing setup instructions",
			Handler: func(ctx context.Context, inv *Invocation) (any, error) {
				return setupInstructions(authURL), nil
			},
		},
		{
			Name:         "check_auth_status",
			Description:  "Check whether a Monarch Money credential is stored for this session",
			ChecksStatus: true,
			FailureVerb:  "checking authentication status",
			Handler:      handleAuthStatus(authURL),
		},
		{
			Name:           "get_accounts",
			Description:    "List all Monarch Money accounts with balances",
			RequiresClient: true,
			FailureVerb:    "getting accounts",
			Handler:        handleGetAccounts,
		},
		{
			Name:        "get_transactions",
			Description: "List transactions, optionally filtered by date range and account",
			Fields: []Field{
				{Name: "limit", Type: FieldNumber, Description: "Maximum number of transactions to return", Default: 100},
				{Name: "offset", Type: FieldNumber, Description: "Number of transactions to skip", Default: 0},
				{Name: "start_date", Type: FieldString, Description: "Earliest transaction date (YYYY-MM-DD)"},
				{Name: "end_date", Type: FieldString, Description: "Latest transaction date (YYYY-MM-DD)"},
				{Name: "account_id", Type: FieldString, Description: "Restrict results to one account"},
			},
			RequiresClient: true,
			FailureVerb:    "getting transactions",
			Handler:        handleGetTransactions,
		},
		{
			Name:           "get_budgets",
			Description:    "List budgets with amounts spent and remaining",
			RequiresClient: true,
			FailureVerb:    "getting budgets",
			Handler:        handleGetBudgets,
		},
		{
			Name:        "get_cashflow",
			Description: "Get cashflow summary over a date range",
			Fields: []Field{
				{Name: "start_date", Type: FieldString, Description: "Start of the range (YYYY-MM-DD)"},
				{Name: "end_date", Type: FieldString, Description: "End of the range (YYYY-MM-DD)"},
			},
			RequiresClient: true,
			FailureVerb:    "getting cashflow",
			Handler:        handleGetCashflow,
		},
		{
			Name:        "get_account_holdings",
			Description: "Get investment holdings for one account",
			Fields: []Field{
				{Name: "account_id", Type: FieldString, Description: "Account to fetch holdings for", Required: true},
			},
			RequiresClient: true,
			FailureVerb:    "getting account holdings",
			Handler:        handleGetHoldings,
		},
		{
			Name:        "create_transaction",
			Description: "Create a manual transaction",
			Fields: []Field{
				{Name: "account_id", Type: FieldString, Required: true},
				{Name: "amount", Type: FieldNumber, Required: true},
				{Name: "description", Type: FieldString, Required: true},
				{Name: "date", Type: FieldString, Description: "Transaction date (YYYY-MM-DD)", Required: true},
				{Name: "category_id", Type: FieldString},
				{Name: "merchant_name", Type: FieldString},
			},
			RequiresClient: true,
			FailureVerb:    "creating transaction",
			Handler:        handleCreateTransaction,
		},
		{
			Name:        "update_transaction",
			Description: "Update fields of an existing transaction",
			Fields: []Field{
				{Name: "transaction_id", Type: FieldString, Required: true},
				{Name: "amount", Type: FieldNumber},
				{Name: "description", Type: FieldString},
				{Name: "category_id", Type: FieldString},
				{Name: "date", Type: FieldString},
			},
			RequiresClient: true,
			FailureVerb:    "updating transaction",
			Handler:        handleUpdateTransaction,
		},
		{
			Name:           "refresh_accounts",
			Description:    "Request a refresh of all linked accounts",
			RequiresClient: true,
			FailureVerb:    "refreshing accounts",
			Handler:        handleRefreshAccounts,
		},
	}
}

// NotAuthenticatedText is the guided-recovery message returned when a
// data tool runs without a stored credential.
func NotAuthenticatedText(authURL string) string {
	return fmt.Sprintf(`Not authenticated with Monarch Money.

Visit %s to connect your account, or run the setup_authentication tool for step-by-step instructions.`, authURL)
}

func setupInstructions(authURL string) string {
	return fmt.Sprintf(`🔐 Monarch Money - Setup Instructions

1️⃣ Visit the token refresh page:
   %s

2️⃣ Enter your Monarch Money credentials:
   • Email and password
   • 2FA code if you have MFA enabled

3️⃣ Token will be saved securely and last for 90 days

4️⃣ Start using Monarch tools:
   • get_accounts - View all accounts
   • get_transactions - Recent transactions
   • get_budgets - Budget information

✅ Token persists for weeks/months
✅ No frequent re-authentication needed
✅ Secure encrypted storage`, authURL)
}

// handleAuthStatus reports credential existence, never the value.
func handleAuthStatus(authURL string) Handler {
	return func(ctx context.Context, inv *Invocation) (any, error) {
		status := "❌ No Monarch Money token found. Visit " + authURL + " to authenticate"
		if inv.HasCredential {
			status = "✅ Monarch Money token found in secure storage"
		}
		return fmt.Sprintf("%s\n\n💡 User ID: %s\n💡 Try get_accounts to test connection", status, inv.UserID), nil
	}
}

// --- projections ---

type accountView struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Type        *string `json:"type,omitempty"`
	Balance     float64 `json:"balance"`
	Institution *string `json:"institution,omitempty"`
	IsActive    bool    `json:"is_active"`
}

type transactionView struct {
	ID          string  `json:"id"`
	Date        string  `json:"date"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	Category    *string `json:"category,omitempty"`
	Account     *string `json:"account,omitempty"`
	Merchant    *string `json:"merchant,omitempty"`
	IsPending   bool    `json:"is_pending"`
}

type budgetView struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Amount    float64 `json:"amount"`
	Spent     float64 `json:"spent"`
	Remaining float64 `json:"remaining"`
	Category  *string `json:"category,omitempty"`
	Period    string  `json:"period"`
}

func handleGetAccounts(ctx context.Context, inv *Invocation) (any, error) {
	result, err := inv.Client.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]accountView, 0, len(result.Accounts))
	for _, a := range result.Accounts {
		name := a.Name
		if a.DisplayName != nil && *a.DisplayName != "" {
			name = *a.DisplayName
		}

		// Active unless the upstream says otherwise: an explicit flag wins,
		// else an account without a deactivation timestamp is active.
		active := a.DeactivatedAt == nil
		if a.IsActive != nil {
			active = *a.IsActive
		}

		view := accountView{
			ID:       a.ID,
			Name:     name,
			Balance:  a.CurrentBalance,
			IsActive: active,
		}
		if a.Type != nil {
			view.Type = &a.Type.Name
		}
		if a.Institution != nil {
			view.Institution = &a.Institution.Name
		}
		views = append(views, view)
	}

	return views, nil
}

func handleGetTransactions(ctx context.Context, inv *Invocation) (any, error) {
	filter := transactionFilterFromArgs(inv.Args)

	result, err := inv.Client.GetTransactions(ctx, filter)
	if err != nil {
		return nil, err
	}

	// A missing results list projects to an empty sequence, not a failure.
	views := make([]transactionView, 0)
	if result.AllTransactions != nil {
		for _, txn := range result.AllTransactions.Results {
			view := transactionView{
				ID:          txn.ID,
				Date:        txn.Date,
				Amount:      txn.Amount,
				Description: txn.Description,
			}
			if txn.Category != nil {
				view.Category = &txn.Category.Name
			}
			if txn.Account != nil && txn.Account.DisplayName != nil {
				view.Account = txn.Account.DisplayName
			}
			if txn.Merchant != nil {
				view.Merchant = &txn.Merchant.Name
			}
			if txn.IsPending != nil {
				view.IsPending = *txn.IsPending
			}
			views = append(views, view)
		}
	}

	return views, nil
}

func handleGetBudgets(ctx context.Context, inv *Invocation) (any, error) {
	result, err := inv.Client.GetBudgets(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]budgetView, 0, len(result.Budgets))
	for _, b := range result.Budgets {
		view := budgetView{
			ID:        b.ID,
			Name:      b.Name,
			Amount:    b.Amount,
			Spent:     b.Spent,
			Remaining: b.Remaining,
			Period:    b.Period,
		}
		if b.Category != nil {
			view.Category = &b.Category.Name
		}
		views = append(views, view)
	}

	return views, nil
}

func handleGetCashflow(ctx context.Context, inv *Invocation) (any, error) {
	return inv.Client.GetCashflow(ctx, dateRangeFromArgs(inv.Args))
}

func handleGetHoldings(ctx context.Context, inv *Invocation) (any, error) {
	return inv.Client.GetAccountHoldings(ctx, inv.Args.String("account_id"))
}

func handleCreateTransaction(ctx context.Context, inv *Invocation) (any, error) {
	return inv.Client.CreateTransaction(ctx, createInputFromArgs(inv.Args))
}

func handleUpdateTransaction(ctx context.Context, inv *Invocation) (any, error) {
	return inv.Client.UpdateTransaction(ctx, updateInputFromArgs(inv.Args))
}

func handleRefreshAccounts(ctx context.Context, inv *Invocation) (any, error) {
	return inv.Client.RequestAccountsRefresh(ctx)
}
