package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quiet-owl-labs/threattriage/internal/rules"
)

var rulesPath string

// rulesCmd groups rule inspection commands.
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Notification rule commands",
	Long: `Commands for inspecting the notification rule document.

Rules are edited through the server API; this command reads the
document directly from disk.`,
}

// rulesListCmd prints every destination's rules.
var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notification rules per destination",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := rules.NewStore(rulesPath)
		doc := store.Document()

		if GetOutput() == "json" {
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(doc) == 0 {
			fmt.Println("No rules configured. Alerts will not be routed anywhere.")
			return nil
		}

		for _, dest := range store.Destinations() {
			fmt.Printf("\n%s\n%s\n", dest, strings.Repeat("-", len(dest)))
			for i, rule := range store.Rules(dest) {
				state := "enabled"
				if !rule.IsEnabled() {
					state = "disabled"
				}
				events := "any event"
				if len(rule.Events) > 0 {
					events = strings.Join(rule.Events, ", ")
				}
				fmt.Printf("  [%d] %-8s  priorities: %-40s  min_confidence: %.2f  events: %s\n",
					i, state, strings.Join(rule.Priorities, ", "), rule.MinConfidence, events)
			}
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rulesCmd.PersistentFlags().StringVar(&rulesPath, "rules", "data/notification_rules.json", "notification rules file")
	rulesCmd.AddCommand(rulesListCmd)

	rootCmd.AddCommand(rulesCmd)
}
