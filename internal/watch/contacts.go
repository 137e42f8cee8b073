package watch

import (
	"context"
	"log/slog"
)

// ResolveContacts fills blank member contact info on events before they
// are displayed. Contacts are left blank at diff time to keep the poll
// cycle cheap; this resolves them lazily and persists the result so
// later history reads skip the lookup. Lookup failures leave the
// contact blank and never fail the caller.
func ResolveContacts(ctx context.Context, client TagClient, store Store, events []ChangeEvent, logger *slog.Logger) {
	// One lookup per member, even when a member appears in several
	// events; failed lookups are cached as blank for this call.
	contacts := make(map[string]string)

	for i := range events {
		ev := &events[i]

		if ev.MemberContact != "" {
			continue
		}

		contact, seen := contacts[ev.MemberID]
		if !seen {
			contact = lookupContact(ctx, client, ev.MemberID, logger)
			contacts[ev.MemberID] = contact
		}

		if contact == "" {
			continue
		}

		ev.MemberContact = contact

		if ev.ID == 0 {
			continue
		}

		if err := store.SetEventContact(ctx, ev.ID, contact); err != nil {
			logger.Debug("persisting event contact failed",
				slog.Int64("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func lookupContact(ctx context.Context, client TagClient, memberID string, logger *slog.Logger) string {
	cust, err := client.GetCustomer(ctx, memberID)
	if err != nil {
		logger.Debug("contact lookup failed",
			slog.String("member_id", memberID),
			slog.String("error", err.Error()),
		)

		return ""
	}

	return cust.Email
}
