package upstream

import (
	"context"
	"errors"
	"fmt"

	"coursecart/backend/internal/domain"
)

var ErrPayment = errors.New("payment processor error")

type PaymentClient struct {
	client *Client
}

func NewPaymentClient(client *Client) *PaymentClient {
	return &PaymentClient{client: client}
}

type creditResponse struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

// IssueCredit returns the processor's refund reference.
func (c *PaymentClient) IssueCredit(ctx context.Context, req domain.CreditRequest) (string, error) {
	var resp creditResponse
	if err := c.client.post(ctx, "/api/v1/credits", req, &resp); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPayment, err)
	}
	if resp.Status != "" && resp.Status != "succeeded" {
		return "", fmt.Errorf("%w: credit for %s ended in status %q", ErrPayment, req.OrderNumber, resp.Status)
	}
	return resp.RefundID, nil
}
