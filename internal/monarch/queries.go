// ABOUTME: GraphQL documents for the Monarch Money operations
// ABOUTME: Selections are limited to the fields the tool layer actually consumes

package monarch

const queryGetAccounts = `
query GetAccounts {
  accounts {
    id
    name
    displayName
    type {
      name
    }
    currentBalance
    institution {
      name
    }
    isActive
    deactivatedAt
  }
}`

const queryGetTransactions = `
query GetTransactionsList($limit: Int!, $offset: Int!, $filters: TransactionFilterInput) {
  allTransactions(limit: $limit, offset: $offset, filters: $filters) {
    totalCount
    results {
      id
      date
      amount
      description
      category {
        name
      }
      account {
        displayName
      }
      merchant {
        name
      }
      isPending
    }
  }
}`

const queryGetBudgets = `
query GetBudgets {
  budgets {
    id
    name
    amount
    spent
    remaining
    category {
      name
    }
    period
  }
}`

const queryGetCashflow = `
query GetCashflow($startDate: Date, $endDate: Date) {
  cashflow(startDate: $startDate, endDate: $endDate) {
    summary {
      sumIncome
      sumExpense
      savings
      savingsRate
    }
    byCategory {
      groupBy {
        category {
          id
          name
        }
      }
      summary {
        sum
      }
    }
  }
}`

const queryGetAccountHoldings = `
query GetAccountHoldings($accountId: ID!) {
  portfolio(input: { accountIds: [$accountId] }) {
    aggregateHoldings {
      edges {
        node {
          id
          quantity
          basis
          totalValue
          securityPriceChangeDollars
          securityPriceChangePercent
          holdings {
            id
            ticker
            name
            quantity
            value
          }
        }
      }
    }
  }
}`

const mutationCreateTransaction = `
mutation CreateTransaction($input: CreateTransactionMutationInput!) {
  createTransaction(input: $input) {
    transaction {
      id
      date
      amount
      description
    }
    errors {
      message
    }
  }
}`

const mutationUpdateTransaction = `
mutation UpdateTransaction($input: UpdateTransactionMutationInput!) {
  updateTransaction(input: $input) {
    transaction {
      id
      date
      amount
      description
    }
    errors {
      message
    }
  }
}`

const mutationRequestRefresh = `
mutation RequestAccountsRefresh {
  requestAccountsRefresh {
    success
  }
}`
