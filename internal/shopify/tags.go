package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Batch update tuning. Chunks are issued sequentially with a delay
// between them; items within one chunk run concurrently. The chunk size
// stays small to avoid tripping undocumented per-second limits.
const (
	batchChunkSize  = 10
	interChunkDelay = 1 * time.Second
)

// GetCustomer fetches a single customer record.
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/customers/"+customerID+".json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var gr getCustomerResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("shopify: decoding customer %s: %w", customerID, err)
	}

	cust := gr.Customer.toCustomer()

	return &cust, nil
}

// CustomerTags returns a customer's current tags.
func (c *Client) CustomerTags(ctx context.Context, customerID string) ([]string, error) {
	cust, err := c.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	return cust.Tags, nil
}

// UpdateCustomerTags replaces a customer's tag string.
func (c *Client) UpdateCustomerTags(ctx context.Context, customerID string, tags []string) error {
	body := updateCustomerRequest{
		Customer: updateCustomerBody{
			Tags: JoinTags(tags),
		},
	}

	// The Admin API requires the numeric ID in the body as well.
	if _, err := fmt.Sscanf(customerID, "%d", &body.Customer.ID); err != nil {
		return fmt.Errorf("shopify: invalid customer ID %q: %w", customerID, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("shopify: encoding tag update for %s: %w", customerID, err)
	}

	resp, err := c.Do(ctx, http.MethodPut, "/customers/"+customerID+".json", payload)
	if err != nil {
		return err
	}

	resp.Body.Close()

	c.logger.Debug("updated customer tags",
		slog.String("customer_id", customerID),
		slog.Int("tag_count", len(tags)),
	)

	return nil
}

// BatchError aggregates per-item failures from a batch tag update.
// Successful items are still applied; the error lists every failure.
type BatchError struct {
	Failures map[int64]error
}

func (e *BatchError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for id, err := range e.Failures {
		msgs = append(msgs, fmt.Sprintf("customer %d: %v", id, err))
	}

	return fmt.Sprintf("shopify: batch tag update: %d of batch failed: %s",
		len(e.Failures), strings.Join(msgs, "; "))
}

// BatchUpdateTags applies tag updates in chunks. Items within a chunk
// run concurrently; chunks are serialized with a fixed delay between
// them. Partial successes are kept; if any item failed, the returned
// error is a *BatchError listing every failure.
func (c *Client) BatchUpdateTags(ctx context.Context, updates []TagUpdate) error {
	failures := make(map[int64]error)

	for start := 0; start < len(updates); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(updates) {
			end = len(updates)
		}

		chunk := updates[start:end]

		g, gctx := errgroup.WithContext(ctx)

		results := make([]error, len(chunk))

		for i, upd := range chunk {
			i, upd := i, upd

			g.Go(func() error {
				id := fmt.Sprintf("%d", upd.CustomerID)
				results[i] = c.UpdateCustomerTags(gctx, id, upd.Tags)

				// Always return nil: one item's failure must not cancel
				// the rest of the chunk.
				return nil
			})
		}

		_ = g.Wait()

		for i, err := range results {
			if err != nil {
				failures[chunk[i].CustomerID] = err
			}
		}

		if end < len(updates) {
			if err := c.sleepFunc(ctx, interChunkDelay); err != nil {
				return fmt.Errorf("shopify: batch update canceled: %w", err)
			}
		}
	}

	c.logger.Info("batch tag update finished",
		slog.Int("total", len(updates)),
		slog.Int("failed", len(failures)),
	)

	if len(failures) > 0 {
		return &BatchError{Failures: failures}
	}

	return nil
}
