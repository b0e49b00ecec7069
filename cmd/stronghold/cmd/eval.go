package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veyra/stronghold/internal/expr"
	"github.com/veyra/stronghold/internal/types"
)

var evalCmd = &cobra.Command{
	Use:   "eval <expression-file>",
	Short: "Evaluate an expression against a context, for rule debugging",
	Args:  cobra.ExactArgs(1),
	RunE:  runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().String("context", "", "JSON file with the evaluation context")
	evalCmd.Flags().Bool("trace", false, "print per-step evaluation trace")
}

func runEval(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read expression: %w", err)
	}

	evalCtx := map[string]any{}
	if contextFile, _ := cmd.Flags().GetString("context"); contextFile != "" {
		data, err := os.ReadFile(contextFile)
		if err != nil {
			return fmt.Errorf("failed to read context: %w", err)
		}
		if err := json.Unmarshal(data, &evalCtx); err != nil {
			return fmt.Errorf("invalid context JSON: %w", err)
		}
	}

	withTrace, _ := cmd.Flags().GetBool("trace")
	if withTrace {
		trace := expr.EvaluateWithTrace(types.Expression(raw), evalCtx)
		for _, step := range trace.Steps {
			state := "ok"
			if !step.Passed {
				state = "failed"
			}
			fmt.Printf("%-10s %-6s", step.Name, state)
			if step.Error != "" {
				fmt.Printf(" %s", step.Error)
			}
			fmt.Println()
		}
		return printResult(trace.Result)
	}

	return printResult(expr.EvaluateRaw(types.Expression(raw), evalCtx))
}

func printResult(res expr.Result) error {
	if !res.OK {
		return fmt.Errorf("evaluation failed: %v", res.Err)
	}
	out, err := json.Marshal(res.Value)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
