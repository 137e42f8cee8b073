package watch

import (
	"context"
	"log/slog"
	"slices"
)

// RuleEngine evaluates change events against the stored automation
// rules and executes matching tag actions. Failures are isolated per
// rule: one rule's error never blocks the rest of the sweep.
type RuleEngine struct {
	client TagClient
	store  Store
	logger *slog.Logger
}

// NewRuleEngine creates a RuleEngine with injected dependencies.
func NewRuleEngine(client TagClient, store Store, logger *slog.Logger) *RuleEngine {
	return &RuleEngine{client: client, store: store, logger: logger}
}

// ShouldTrigger reports whether a rule's trigger condition matches an
// event. Inactive rules never trigger.
func ShouldTrigger(rule *Rule, event *ChangeEvent) bool {
	if !rule.Active {
		return false
	}

	switch rule.Trigger {
	case TriggerSegmentEnter:
		return event.Kind == ChangeAdded && slices.Contains(event.ToSegments, rule.TargetSegment)
	case TriggerSegmentExit:
		return event.Kind == ChangeRemoved && slices.Contains(event.FromSegments, rule.SourceSegment)
	case TriggerSegmentMove:
		return event.Kind == ChangeMoved &&
			slices.Contains(event.FromSegments, rule.SourceSegment) &&
			slices.Contains(event.ToSegments, rule.TargetSegment)
	default:
		return false
	}
}

// ApplyActions computes the new tag list after applying the rule's
// actions in order. Add unions the tag in (deduplicated); remove
// filters it out. Returns the new tags and whether anything changed.
func ApplyActions(tags []string, actions []TagAction) ([]string, bool) {
	result := slices.Clone(tags)

	for _, action := range actions {
		switch action.Kind {
		case ActionAddTag:
			if !slices.Contains(result, action.Tag) {
				result = append(result, action.Tag)
			}
		case ActionRemoveTag:
			result = slices.DeleteFunc(result, func(t string) bool {
				return t == action.Tag
			})
		}
	}

	return result, !slices.Equal(tags, result)
}

// Execute runs one rule against one matching event: resolves the
// member's current tags, applies the actions, writes back only when the
// tag set actually changed, then records the execution.
func (re *RuleEngine) Execute(ctx context.Context, rule *Rule, event *ChangeEvent) error {
	tags, err := re.client.CustomerTags(ctx, event.MemberID)
	if err != nil {
		return err
	}

	newTags, changed := ApplyActions(tags, rule.Actions)

	if changed {
		if err := re.client.UpdateCustomerTags(ctx, event.MemberID, newTags); err != nil {
			return err
		}
	}

	if err := re.store.RecordRuleExecution(ctx, rule.ID, NowNano()); err != nil {
		return err
	}

	re.logger.Info("rule executed",
		slog.String("rule", rule.Name),
		slog.String("member_id", event.MemberID),
		slog.String("kind", string(event.Kind)),
		slog.Bool("tags_changed", changed),
	)

	return nil
}

// ProcessEvents evaluates every event against every active rule. Rules
// are not short-circuited: multiple rules may fire for one event. Each
// execution failure is logged and counted but never stops the sweep.
// Returns the number of rule executions performed.
func (re *RuleEngine) ProcessEvents(ctx context.Context, events []ChangeEvent) int {
	if len(events) == 0 {
		return 0
	}

	rules, err := re.store.ListRules(ctx)
	if err != nil {
		re.logger.Error("loading rules for event sweep", slog.String("error", err.Error()))
		return 0
	}

	var executed int

	for i := range events {
		event := &events[i]

		for _, rule := range rules {
			if !ShouldTrigger(rule, event) {
				continue
			}

			if err := re.Execute(ctx, rule, event); err != nil {
				re.logger.Error("rule execution failed",
					slog.String("rule", rule.Name),
					slog.String("member_id", event.MemberID),
					slog.String("error", err.Error()),
				)

				continue
			}

			executed++
		}
	}

	return executed
}
