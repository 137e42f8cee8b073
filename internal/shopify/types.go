package shopify

import (
	"log/slog"
	"strings"
	"time"
)

// Timestamp validation bounds — timestamps outside this range are replaced
// with the current time and a warning is logged.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// Segment is a normalized customer saved search. The Admin API calls
// these "customer saved searches"; the UI calls them segments.
type Segment struct {
	ID          int64
	Name        string
	FilterQuery string // saved-search query syntax, may be empty
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// MemberCount is filled by the segment sync when counting succeeds.
	// Nil means the count has never been fetched.
	MemberCount  *int64
	CountLoading bool
}

// Customer is a normalized customer record. Only the fields the tagging
// engine needs are carried.
type Customer struct {
	ID    int64
	Email string
	Tags  []string
}

// TagUpdate is one customer's desired tag state for a batch update.
type TagUpdate struct {
	CustomerID int64
	Tags       []string
}

// savedSearchResponse mirrors the Admin API customer_saved_search JSON.
// Unexported — callers receive normalized Segment values.
type savedSearchResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Query     string `json:"query"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type listSavedSearchesResponse struct {
	CustomerSavedSearches []savedSearchResponse `json:"customer_saved_searches"`
}

// customerResponse mirrors the Admin API customer JSON. Tags arrive as a
// single comma-separated string and are split during normalization.
type customerResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Tags  string `json:"tags"`
}

type getCustomerResponse struct {
	Customer customerResponse `json:"customer"`
}

type searchCustomersResponse struct {
	Customers []customerResponse `json:"customers"`
}

type updateCustomerRequest struct {
	Customer updateCustomerBody `json:"customer"`
}

type updateCustomerBody struct {
	ID   int64  `json:"id"`
	Tags string `json:"tags"`
}

// toSegment normalizes an Admin API saved search into our Segment type.
func (s *savedSearchResponse) toSegment(logger *slog.Logger) Segment {
	return Segment{
		ID:          s.ID,
		Name:        s.Name,
		FilterQuery: strings.TrimSpace(s.Query),
		CreatedAt:   parseTimestamp(s.CreatedAt, "created_at", s.ID, logger),
		UpdatedAt:   parseTimestamp(s.UpdatedAt, "updated_at", s.ID, logger),
	}
}

// toCustomer normalizes an Admin API customer into our Customer type.
func (c *customerResponse) toCustomer() Customer {
	return Customer{
		ID:    c.ID,
		Email: c.Email,
		Tags:  SplitTags(c.Tags),
	}
}

// SplitTags splits Shopify's comma-separated tag string into a clean
// slice, trimming whitespace and dropping empty entries.
func SplitTags(raw string) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))

	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}

	return tags
}

// JoinTags renders a tag slice back into Shopify's comma-separated
// string form.
func JoinTags(tags []string) string {
	return strings.Join(tags, ", ")
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Invalid or out-of-range timestamps are replaced with time.Now().UTC() and logged.
func parseTimestamp(raw, field string, id int64, logger *slog.Logger) time.Time {
	if raw == "" {
		logger.Warn("empty timestamp, using current time",
			slog.String("field", field),
			slog.Int64("id", id),
		)

		return time.Now().UTC()
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp, using current time",
			slog.String("field", field),
			slog.Int64("id", id),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of range, using current time",
			slog.String("field", field),
			slog.Int64("id", id),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	return t.UTC()
}
