package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// NoopProvider мгновенно одобряет любое списание. Только для разработки.
type NoopProvider struct{}

func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

func (p *NoopProvider) Name() string {
	return "noop"
}

func (p *NoopProvider) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("noop charge: %w", err)
	}
	raw, _ := json.Marshal(map[string]string{
		"transaction_id": req.TransactionID,
		"status":         "settlement",
	})
	return &ChargeResult{
		ProviderTransactionID: "noop-" + uuid.NewString(),
		RawResponse:           raw,
	}, nil
}
