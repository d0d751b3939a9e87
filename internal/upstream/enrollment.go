package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"coursecart/backend/internal/domain"
)

type EnrollmentClient struct {
	client *Client
}

func NewEnrollmentClient(client *Client) *EnrollmentClient {
	return &EnrollmentClient{client: client}
}

type enrollmentError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

// SetEnrollment creates, updates or deactivates an enrollment. A response telling us
// the learner is enrolled in a different mode is reported as ErrModeMismatch.
func (c *EnrollmentClient) SetEnrollment(ctx context.Context, req domain.EnrollmentRequest) error {
	err := c.client.post(ctx, "/api/enrollment/v1/enrollment", req, nil)
	if err == nil {
		return nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && isModeMismatch(statusErr.Body) {
		statusErr.Err = ErrModeMismatch
	}
	return err
}

func isModeMismatch(body string) bool {
	var payload enrollmentError
	if err := json.Unmarshal([]byte(body), &payload); err == nil && payload.ErrorCode == "mode_mismatch" {
		return true
	}
	return strings.Contains(strings.ToLower(body), "mode mismatch")
}
