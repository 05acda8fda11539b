package providers

import (
	"context"
	"fmt"

	billing "cloud.google.com/go/billing/budgets/apiv1"
	"cloud.google.com/go/billing/budgets/apiv1/budgetspb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// BudgetLimit is one configured budget on a billing account.
type BudgetLimit struct {
	Name  string
	Limit float64
}

// BudgetLister reads the budgets configured on a GCE billing account
// so their limits can be published next to the measured spend.
type BudgetLister struct {
	client         *billing.BudgetClient
	billingAccount string
}

// NewBudgetLister opens a Billing Budgets client.
func NewBudgetLister(ctx context.Context, billingAccount string, opts ...option.ClientOption) (*BudgetLister, error) {
	client, err := billing.NewBudgetClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating budget client: %v", ErrAuthentication, err)
	}
	return &BudgetLister{client: client, billingAccount: billingAccount}, nil
}

// Close releases the budget client.
func (b *BudgetLister) Close() error { return b.client.Close() }

// ListBudgetLimits returns every budget configured on the billing
// account with its specified amount.
func (b *BudgetLister) ListBudgetLimits(ctx context.Context) ([]BudgetLimit, error) {
	req := &budgetspb.ListBudgetsRequest{
		Parent: fmt.Sprintf("billingAccounts/%s", b.billingAccount),
	}

	var limits []BudgetLimit
	it := b.client.ListBudgets(ctx, req)
	for {
		budget, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing budgets for %s: %w", b.billingAccount, err)
		}

		var limit float64
		if budget.Amount != nil && budget.Amount.GetSpecifiedAmount() != nil {
			amount := budget.Amount.GetSpecifiedAmount()
			limit = float64(amount.Units) + float64(amount.Nanos)/1e9
		}
		limits = append(limits, BudgetLimit{Name: budget.DisplayName, Limit: limit})
	}
	return limits, nil
}
