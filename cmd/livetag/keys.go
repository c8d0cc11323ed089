package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/recera/livetag/pkg/gesture"
	"github.com/recera/livetag/pkg/logging"
	"github.com/recera/livetag/pkg/mapping"
	"github.com/spf13/cobra"
)

func newKeysCommand(flags *globalFlags) *cobra.Command {
	var view string
	var position int
	var screen string
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "keys <kind> <direction> <method>",
		Short: "Print the rule keys for a gesture, most specific first",
		Long: `Keys prints the lookup order used to rename or ignore a gesture. With
rules loaded, the matching rules and the outcome are shown as well.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := gesture.ParseKind(args[0])
			if err != nil {
				return err
			}
			ev := gesture.Event{Kind: kind, Direction: args[1], Method: args[2]}
			if view != "" {
				ev.View = &gesture.View{ClassName: view, Position: position}
			}
			if screen != "" {
				ev.Screen = &gesture.Screen{ClassName: screen}
			}

			if rulesPath == "" {
				if cfg, err := flags.loadConfig(); err == nil {
					rulesPath = cfg.Rules.Path
				}
			}

			store := mapping.NewStore(mapping.Options{Logger: logging.Discard()})
			if rulesPath != "" {
				if err := store.LoadFile(rulesPath); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "rules not loaded: %v\n", err)
				}
			}

			out := cmd.OutOrStdout()
			rules, err := store.Snapshot()
			if err != nil && !errors.Is(err, mapping.ErrNotLoaded) {
				return err
			}
			if rules != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d global rules, %d event rules\n",
					rulesPath, len(rules.Configuration.Rules), len(rules.Configuration.Events))
				if ignore := kind.IgnoreRule(); ignore != "" && rules.Configuration.Rules[ignore] {
					fmt.Fprintf(out, "   %s: ignored\n", ignore)
				}
			}
			for i, key := range gesture.RuleKeys(ev) {
				fmt.Fprintf(out, "%2d %s%s\n", i+1, key, describeRule(rules, key))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&view, "view", "", "View class name")
	cmd.Flags().IntVar(&position, "position", 0, "View position")
	cmd.Flags().StringVar(&screen, "screen", "", "Screen class name")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "Rules file to match against")

	return cmd
}

func describeRule(rules *mapping.Document, key string) string {
	if rules == nil {
		return ""
	}
	rule, ok := rules.Configuration.Events[key]
	if !ok {
		return ""
	}
	if rule.Ignored() {
		return "  -> ignored"
	}
	if rule.Title != nil {
		return "  -> title " + strconv.Quote(*rule.Title)
	}
	return ""
}
