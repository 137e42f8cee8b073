package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/segwatch/segwatch/internal/watch"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage tag automation rules",
	}

	cmd.AddCommand(newRulesAddCmd())
	cmd.AddCommand(newRulesListCmd())
	cmd.AddCommand(newRulesRmCmd())
	cmd.AddCommand(newRulesSetActiveCmd("enable", true))
	cmd.AddCommand(newRulesSetActiveCmd("disable", false))

	return cmd
}

func newRulesAddCmd() *cobra.Command {
	var (
		name    string
		trigger string
		source  string
		target  string
		addTags []string
		rmTags  []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a tag automation rule",
		Long: `Create a tag automation rule.

Triggers:
  segment_enter  fires when a member enters the --target segment
  segment_exit   fires when a member leaves the --source segment
  segment_move   fires when a member leaves --source and enters --target
                 within one poll cycle

Actions run in order: all --add-tag actions, then all --remove-tag actions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind := watch.TriggerKind(trigger)

			switch kind {
			case watch.TriggerSegmentEnter:
				if target == "" {
					return fmt.Errorf("segment_enter requires --target")
				}
			case watch.TriggerSegmentExit:
				if source == "" {
					return fmt.Errorf("segment_exit requires --source")
				}
			case watch.TriggerSegmentMove:
				if source == "" || target == "" {
					return fmt.Errorf("segment_move requires --source and --target")
				}
			default:
				return fmt.Errorf("unknown trigger %q", trigger)
			}

			if len(addTags) == 0 && len(rmTags) == 0 {
				return fmt.Errorf("at least one --add-tag or --remove-tag is required")
			}

			var actions []watch.TagAction
			for _, tag := range addTags {
				actions = append(actions, watch.TagAction{Kind: watch.ActionAddTag, Tag: tag})
			}

			for _, tag := range rmTags {
				actions = append(actions, watch.TagAction{Kind: watch.ActionRemoveTag, Tag: tag})
			}

			if name == "" {
				name = fmt.Sprintf("%s %s%s", trigger, source, target)
			}

			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			rule := &watch.Rule{
				ID:            uuid.NewString(),
				Name:          name,
				Active:        true,
				Trigger:       kind,
				SourceSegment: source,
				TargetSegment: target,
				Actions:       actions,
				CreatedAt:     watch.NowNano(),
			}

			if err := store.SaveRule(cmd.Context(), rule); err != nil {
				return err
			}

			statusf("Created rule %s (%s)\n", rule.Name, rule.ID)

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "rule name (generated when empty)")
	cmd.Flags().StringVar(&trigger, "trigger", "", "trigger kind: segment_enter, segment_exit, or segment_move")
	cmd.Flags().StringVar(&source, "source", "", "source segment name (exit and move triggers)")
	cmd.Flags().StringVar(&target, "target", "", "target segment name (enter and move triggers)")
	cmd.Flags().StringSliceVar(&addTags, "add-tag", nil, "tag to add when the rule fires (repeatable)")
	cmd.Flags().StringSliceVar(&rmTags, "remove-tag", nil, "tag to remove when the rule fires (repeatable)")

	return cmd
}

func newRulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			rules, err := store.ListRules(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(rules)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tACTIVE\tTRIGGER\tACTIONS\tFIRED\tLAST")

			for _, rule := range rules {
				last := int64(0)
				if rule.LastTriggeredAt != nil {
					last = *rule.LastTriggeredAt
				}

				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%d\t%s\n",
					rule.ID, rule.Name, rule.Active, rule.Trigger,
					formatActions(rule.Actions), rule.ExecutionCount, formatNano(last),
				)
			}

			return w.Flush()
		},
	}
}

func newRulesRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <rule-id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteRule(cmd.Context(), args[0]); err != nil {
				return err
			}

			statusf("Deleted rule %s\n", args[0])

			return nil
		},
	}
}

func newRulesSetActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <rule-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()

			rule, err := store.GetRule(ctx, args[0])
			if err != nil {
				return err
			}

			if rule == nil {
				return fmt.Errorf("rule %s not found", args[0])
			}

			rule.Active = active
			if err := store.SaveRule(ctx, rule); err != nil {
				return err
			}

			statusf("Rule %s %sd\n", rule.Name, use)

			return nil
		},
	}
}

func formatActions(actions []watch.TagAction) string {
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		parts = append(parts, fmt.Sprintf("%s:%s", a.Kind, a.Tag))
	}

	return strings.Join(parts, ",")
}
