package cli

import (
	"fmt"
	"strings"

	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(policyCmd)
}

type policyView struct {
	Table     map[string]map[string]string `json:"escalation_table"`
	Protocols map[string]protocolView      `json:"protocols"`
	Pins      []core.Pin                   `json:"pins"`
	Valid     bool                         `json:"valid"`
}

type protocolView struct {
	Kind  core.ProtocolKind `json:"kind"`
	Steps int               `json:"steps"`
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show the escalation table, protocols and pinned actions",
	Long: `Print the policy in effect: how each base tier escalates for each target
sensitivity, the confirmation protocol for each final tier, and the actions
pinned to the multi-step protocol (built-in and from policy.pinned_actions).

The policy is validated when it is built; an incomplete or non-monotonic
table is an error.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		policy, err := newPolicy(cfg)
		if err != nil {
			return err
		}

		view := policyView{
			Table:     map[string]map[string]string{},
			Protocols: map[string]protocolView{},
			Pins:      policy.Pins(),
			Valid:     true,
		}
		for _, base := range core.AllTiers() {
			row := map[string]string{}
			for _, sens := range core.AllSensitivities() {
				final, _ := policy.Decide(base, sens)
				row[sens.String()] = final.String()
			}
			view.Table[base.String()] = row
			kind := core.ProtocolKindFor(base)
			view.Protocols[base.String()] = protocolView{Kind: kind, Steps: stepsFor(kind)}
		}

		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if !out.IsText() {
			return out.Write(view)
		}

		headers := []string{"base \\ target"}
		for _, sens := range core.AllSensitivities() {
			headers = append(headers, sens.String())
		}
		var rows [][]string
		for _, base := range core.AllTiers() {
			row := []string{base.String()}
			for _, sens := range core.AllSensitivities() {
				row = append(row, view.Table[base.String()][sens.String()])
			}
			rows = append(rows, row)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, "Escalation (final tier):")
		if err := out.Table(headers, rows); err != nil {
			return err
		}

		fmt.Fprintln(w, "\nProtocols:")
		var protoRows [][]string
		for _, tier := range core.AllTiers() {
			p := view.Protocols[tier.String()]
			protoRows = append(protoRows, []string{tier.String(), string(p.Kind), fmt.Sprintf("%d step(s)", p.Steps)})
		}
		if err := out.Table(nil, protoRows); err != nil {
			return err
		}

		fmt.Fprintln(w, "\nPinned to multi-step:")
		for _, pin := range view.Pins {
			line := fmt.Sprintf("  %s:%s", pin.Tool, pin.Action)
			if pin.Pattern != "" {
				line += " matching " + pin.Pattern
			}
			fmt.Fprintf(w, "%s  (%s)\n", line, strings.TrimSpace(pin.Reason))
		}
		fmt.Fprintln(w, "\nPolicy table: valid")
		return nil
	},
}

func stepsFor(kind core.ProtocolKind) int {
	return core.Protocol{Kind: kind}.Steps()
}
