package cli

import (
	"encoding/hex"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/engine"
	"github.com/roach88/strata/internal/rules"
)

// RulesOutput describes the built-in rule graph.
type RulesOutput struct {
	Fingerprint string   `json:"fingerprint"`
	Queries     []string `json:"queries"`
	Rules       []string `json:"rules"`

	graph *rules.RuleGraph
}

// Text writes the graph as Graphviz DOT.
func (r RulesOutput) Text(w io.Writer) error {
	return r.graph.Visualize(w)
}

// NewRulesCommand creates the rules command.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Validate the built-in rules and print the rule graph",
		Long: `Build the rule graph of the built-in filesystem, digest and process
rules, then print it as Graphviz DOT (text) or as a summary (json).

Example:
  strata rules | dot -Tsvg > rules.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			rg, err := engine.RegisterIntrinsics(rules.NewBuilder()).Build()
			if err != nil {
				return out.Fail(ExitFailure, "invalid rule graph", err)
			}
			return out.Success(describeRules(rg))
		},
	}
}

func describeRules(rg *rules.RuleGraph) RulesOutput {
	fp := rg.Fingerprint()
	out := RulesOutput{Fingerprint: hex.EncodeToString(fp[:]), graph: rg}
	for _, q := range rg.Queries() {
		out.Queries = append(out.Queries, q.String())
	}
	for _, r := range rg.Rules() {
		out.Rules = append(out.Rules, r.Name)
	}
	return out
}
