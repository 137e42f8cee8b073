package shopify

import (
	"fmt"
	"regexp"
	"strings"
)

// Saved-search filter syntax and customer-search query syntax are
// different languages in the Admin API. Translation is a best-effort
// clause-by-clause pattern substitution. A clause no rule matches makes
// the whole segment unmonitorable: monitoring a guessed population is
// worse than monitoring nothing, so translation fails loudly instead of
// falling back to an all-customers query.

// translationRule rewrites one saved-search clause into customer-search
// syntax. Rules are tried in order; the first match wins.
type translationRule struct {
	pattern *regexp.Regexp
	rewrite func(m []string) string
}

var translationRules = []translationRule{
	// Numeric comparisons pass through: orders_count:>5, total_spent:<=100.50.
	{
		pattern: regexp.MustCompile(`^(orders_count|total_spent):(>=|<=|>|<)?(\d+(?:\.\d+)?)$`),
		rewrite: func(m []string) string {
			return fmt.Sprintf("%s:%s%s", m[1], m[2], m[3])
		},
	},
	// Subscription status: accepts_marketing:1 → accepts_marketing:true.
	{
		pattern: regexp.MustCompile(`^accepts_marketing:(1|0|true|false|yes|no)$`),
		rewrite: func(m []string) string {
			switch m[1] {
			case "1", "true", "yes":
				return "accepts_marketing:true"
			default:
				return "accepts_marketing:false"
			}
		},
	},
	// Tag containment: customer_tags:'vip' or tag:vip → tag:'vip'.
	{
		pattern: regexp.MustCompile(`^(?:customer_tags|tag):'?([^']+?)'?$`),
		rewrite: func(m []string) string {
			return fmt.Sprintf("tag:'%s'", m[1])
		},
	},
	// Account state equality passes through.
	{
		pattern: regexp.MustCompile(`^state:(enabled|disabled|invited|declined)$`),
		rewrite: func(m []string) string {
			return "state:" + m[1]
		},
	},
	// Country equality: country:'United States' or country_code:US.
	{
		pattern: regexp.MustCompile(`^country(?:_code)?:'?([^']+?)'?$`),
		rewrite: func(m []string) string {
			return fmt.Sprintf("country:'%s'", m[1])
		},
	},
}

// TranslateQuery converts a saved-search filter query into customer
// search syntax. Clauses are whitespace-separated with AND semantics;
// each must match a translation rule. An empty query or any clause
// without a matching rule returns ErrUnmonitorable.
func TranslateQuery(filterQuery string) (string, error) {
	filterQuery = strings.TrimSpace(filterQuery)
	if filterQuery == "" {
		return "", fmt.Errorf("%w: segment has no filter query", ErrUnmonitorable)
	}

	clauses := splitClauses(filterQuery)
	translated := make([]string, 0, len(clauses))

clause:
	for _, clause := range clauses {
		for _, rule := range translationRules {
			if m := rule.pattern.FindStringSubmatch(clause); m != nil {
				translated = append(translated, rule.rewrite(m))
				continue clause
			}
		}

		return "", fmt.Errorf("%w: no translation rule for filter clause %q", ErrUnmonitorable, clause)
	}

	return strings.Join(translated, " "), nil
}

// splitClauses splits a filter query on whitespace while keeping
// single-quoted values (which may contain spaces) attached to their clause.
func splitClauses(query string) []string {
	var (
		clauses  []string
		current  strings.Builder
		inQuotes bool
	)

	for _, r := range query {
		switch {
		case r == '\'':
			inQuotes = !inQuotes
			current.WriteRune(r)
		case (r == ' ' || r == '\t') && !inQuotes:
			if current.Len() > 0 {
				clauses = append(clauses, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		clauses = append(clauses, current.String())
	}

	return clauses
}
