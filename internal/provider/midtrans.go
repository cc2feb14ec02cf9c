package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"

	"github.com/gigwork/settlement-backend/internal/models"
)

// MidtransProvider проводит списания через Midtrans Core API.
type MidtransProvider struct {
	client coreapi.Client
}

func NewMidtransProvider(serverKey string, production bool) *MidtransProvider {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}
	var client coreapi.Client
	client.New(serverKey, env)
	return &MidtransProvider{client: client}
}

func (p *MidtransProvider) Name() string {
	return models.ProviderMidtrans
}

// Charge выполняет банковское списание. Клиент Midtrans не принимает контекст,
// поэтому вызов выполняется в отдельной горутине и обрывается по ctx.
func (p *MidtransProvider) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	type chargeOutcome struct {
		result *ChargeResult
		err    error
	}
	done := make(chan chargeOutcome, 1)

	go func() {
		chargeReq := &coreapi.ChargeReq{
			PaymentType: coreapi.PaymentTypeBankTransfer,
			BankTransfer: &coreapi.BankTransferDetails{
				Bank: midtrans.BankBca,
			},
			TransactionDetails: midtrans.TransactionDetails{
				OrderID:  req.TransactionID,
				GrossAmt: req.Amount.Round(0).IntPart(),
			},
			Items: &[]midtrans.ItemDetails{{
				ID:    req.OrderNumber,
				Name:  req.Description,
				Price: req.Amount.Round(0).IntPart(),
				Qty:   1,
			}},
		}

		response, chargeErr := p.client.ChargeTransaction(chargeReq)
		if chargeErr != nil {
			done <- chargeOutcome{err: fmt.Errorf("midtrans charge: %w", chargeErr)}
			return
		}

		raw, err := json.Marshal(response)
		if err != nil {
			done <- chargeOutcome{err: fmt.Errorf("midtrans charge: marshal response %w", err)}
			return
		}
		done <- chargeOutcome{result: &ChargeResult{
			ProviderTransactionID: response.TransactionID,
			RawResponse:           raw,
		}}
	}()

	select {
	case outcome := <-done:
		return outcome.result, outcome.err
	case <-ctx.Done():
		return nil, fmt.Errorf("midtrans charge: %w", ctx.Err())
	}
}
