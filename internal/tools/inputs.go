// ABOUTME: Conversions from validated tool arguments to upstream operation inputs
// ABOUTME: Optional arguments map to nil pointers so the client can omit them upstream

package tools

import (
	"github.com/tm3/monarch-gateway/internal/monarch"
)

func transactionFilterFromArgs(args Args) monarch.TransactionFilter {
	return monarch.TransactionFilter{
		Limit:     args.Int("limit"),
		Offset:    args.Int("offset"),
		StartDate: args.OptString("start_date"),
		EndDate:   args.OptString("end_date"),
		AccountID: args.OptString("account_id"),
	}
}

func dateRangeFromArgs(args Args) monarch.DateRange {
	return monarch.DateRange{
		StartDate: args.OptString("start_date"),
		EndDate:   args.OptString("end_date"),
	}
}

func createInputFromArgs(args Args) monarch.CreateTransactionInput {
	return monarch.CreateTransactionInput{
		AccountID:    args.String("account_id"),
		Amount:       args.Float("amount"),
		Description:  args.String("description"),
		Date:         args.String("date"),
		CategoryID:   args.OptString("category_id"),
		MerchantName: args.OptString("merchant_name"),
	}
}

func updateInputFromArgs(args Args) monarch.UpdateTransactionInput {
	return monarch.UpdateTransactionInput{
		TransactionID: args.String("transaction_id"),
		Amount:        args.OptFloat("amount"),
		Description:   args.OptString("description"),
		CategoryID:    args.OptString("category_id"),
		Date:          args.OptString("date"),
	}
}
