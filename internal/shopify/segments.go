package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

// segmentListLimit is the Admin API page cap for saved searches. One
// page is fetched; stores with more saved searches than this are out of
// scope for the segment cache.
const segmentListLimit = 250

// searchPageSize is the page size for customer search requests. 250 is
// the maximum the Admin API allows.
const searchPageSize = 250

// Inter-page delays for member enumeration. The shorter delay applies
// to very large limits so a full enumeration of a big segment finishes
// in bounded wall time.
const (
	pageDelay          = 500 * time.Millisecond
	pageDelayLarge     = 150 * time.Millisecond
	largeLimitBoundary = 5000
)

// nextLinkPattern extracts the URL of the rel="next" entry from a Link
// response header.
var nextLinkPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// ListSegments fetches all customer saved searches (single page up to
// the API cap) and returns them as normalized segments.
func (c *Client) ListSegments(ctx context.Context) ([]Segment, error) {
	path := fmt.Sprintf("/customer_saved_searches.json?limit=%d", segmentListLimit)

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var lr listSavedSearchesResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("shopify: decoding saved searches: %w", err)
	}

	segments := make([]Segment, 0, len(lr.CustomerSavedSearches))
	for i := range lr.CustomerSavedSearches {
		segments = append(segments, lr.CustomerSavedSearches[i].toSegment(c.logger))
	}

	c.logger.Info("listed segments", slog.Int("count", len(segments)))

	return segments, nil
}

// ListSegmentMemberIDs resolves the segment's filter query, translates
// it into customer-search syntax, and pages through matching customers
// accumulating IDs until limit is reached or pages are exhausted.
// Returns ErrUnmonitorable when the filter cannot be translated.
func (c *Client) ListSegmentMemberIDs(ctx context.Context, segment Segment, limit int) ([]string, error) {
	query, err := TranslateQuery(segment.FilterQuery)
	if err != nil {
		return nil, fmt.Errorf("segment %d (%s): %w", segment.ID, segment.Name, err)
	}

	c.logger.Debug("enumerating segment members",
		slog.Int64("segment_id", segment.ID),
		slog.String("query", query),
		slog.Int("limit", limit),
	)

	delay := pageDelay
	if limit >= largeLimitBoundary {
		delay = pageDelayLarge
	}

	path := fmt.Sprintf("/customers/search.json?query=%s&limit=%d&fields=id",
		url.QueryEscape(query), searchPageSize)

	var ids []string

	for page := 1; ; page++ {
		pageIDs, next, err := c.searchPage(ctx, path)
		if err != nil {
			return nil, err
		}

		for _, id := range pageIDs {
			ids = append(ids, id)
			if len(ids) >= limit {
				c.logger.Debug("member enumeration hit limit",
					slog.Int64("segment_id", segment.ID),
					slog.Int("count", len(ids)),
				)

				return ids, nil
			}
		}

		if next == "" {
			break
		}

		// Rate-limit courtesy between pages.
		if err := c.sleepFunc(ctx, delay); err != nil {
			return nil, fmt.Errorf("shopify: member enumeration canceled: %w", err)
		}

		path = next
	}

	c.logger.Debug("member enumeration complete",
		slog.Int64("segment_id", segment.ID),
		slog.Int("count", len(ids)),
	)

	return ids, nil
}

// searchPage fetches one page of customer search results, returning the
// customer IDs and the path of the next page (empty when exhausted).
func (c *Client) searchPage(ctx context.Context, path string) ([]string, string, error) {
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var sr searchCustomersResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, "", fmt.Errorf("shopify: decoding customer search page: %w", err)
	}

	ids := make([]string, 0, len(sr.Customers))
	for _, cust := range sr.Customers {
		ids = append(ids, strconv.FormatInt(cust.ID, 10))
	}

	next, err := c.nextPagePath(resp.Header.Get("Link"))
	if err != nil {
		return nil, "", err
	}

	return ids, next, nil
}

// nextPagePath extracts the rel="next" cursor URL from a Link header
// and strips the client's base URL so the result can be passed to Do.
func (c *Client) nextPagePath(linkHeader string) (string, error) {
	if linkHeader == "" {
		return "", nil
	}

	m := nextLinkPattern.FindStringSubmatch(linkHeader)
	if m == nil {
		return "", nil
	}

	return c.stripBaseURL(m[1])
}

// stripBaseURL converts a full API URL into a path relative to the
// client's base URL.
func (c *Client) stripBaseURL(full string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("shopify: invalid base URL: %w", err)
	}

	u, err := url.Parse(full)
	if err != nil {
		return "", fmt.Errorf("shopify: invalid pagination URL: %w", err)
	}

	path := u.Path
	if basePath := base.Path; basePath != "" && len(path) >= len(basePath) && path[:len(basePath)] == basePath {
		path = path[len(basePath):]
	}

	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return path, nil
}
