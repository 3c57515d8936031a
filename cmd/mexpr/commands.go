package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/lemonberrylabs/mexpr/pkg/api"
	"github.com/lemonberrylabs/mexpr/pkg/expr"
	"github.com/lemonberrylabs/mexpr/pkg/parser"
	"github.com/lemonberrylabs/mexpr/pkg/runtime"
	"github.com/lemonberrylabs/mexpr/pkg/sqlselect"
	"github.com/lemonberrylabs/mexpr/pkg/store"
	"github.com/lemonberrylabs/mexpr/pkg/types"
	"github.com/spf13/cobra"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval EXPR...",
		Short: "Evaluate an expression",
		Example: `  mexpr eval "max(2, 3) * 4"
  mexpr eval --given a=1 --given b=3.0 "a + b"
  mexpr eval --dataset app.yaml --row 0 "b <= c"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runEval,
	}
	cmd.Flags().String("grammar", "auto", "Grammar to match: auto, arithmetic, comparison or logical")
	cmd.Flags().StringArray("given", nil, "Variable binding name=value (repeatable)")
	cmd.Flags().String("dataset", "", "Dataset file (YAML or JSON) supplying variables")
	cmd.Flags().Int("row", 0, "Row of the dataset to use")
	cmd.Flags().Bool("postfix", false, "Also print the postfix form")
	return cmd
}

func runEval(cmd *cobra.Command, args []string) error {
	grammarName, _ := cmd.Flags().GetString("grammar")
	grammar, err := expr.ParseGrammar(grammarName)
	if err != nil {
		return err
	}

	req := runtime.Request{
		Expression: strings.Join(args, " "),
		Grammar:    grammar,
		Variables:  make(map[string]types.Value),
	}

	givens, _ := cmd.Flags().GetStringArray("given")
	for _, g := range givens {
		name, v, err := runtime.ParseAssignment(g)
		if err != nil {
			return err
		}
		req.Variables[name] = v
	}

	s := store.New()
	if path, _ := cmd.Flags().GetString("dataset"); path != "" {
		ds, err := parser.ParseFile(path)
		if err != nil {
			return fmt.Errorf("loading dataset %s: %w", path, err)
		}
		s.PutDataset(ds.Name, ds.Description, ds.Rows)
		req.Dataset = ds.Name
		req.Row, _ = cmd.Flags().GetInt("row")
	}

	out, err := runtime.NewEvaluator(s, nil, nil).Evaluate(context.Background(), req)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	okColor.Fprint(w, out.Result.String())
	dimColor.Fprintf(w, " (%s)\n", out.Result.Type())
	if showPostfix, _ := cmd.Flags().GetBool("postfix"); showPostfix {
		fmt.Fprintf(w, "postfix: %s\n", strings.Join(out.Program.PostfixText(), " "))
	}
	return nil
}

func newPostfixCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "postfix EXPR...",
		Short: "Print the postfix form and expression tree",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			grammarName, _ := cmd.Flags().GetString("grammar")
			grammar, err := expr.ParseGrammar(grammarName)
			if err != nil {
				return err
			}
			prog, err := expr.Compile(strings.Join(args, " "), grammar)
			if err != nil {
				return err
			}
			tree, err := prog.Tree()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "grammar:   %s\n", prog.Grammar)
			fmt.Fprintf(w, "postfix:   %s\n", strings.Join(prog.PostfixText(), " "))
			fmt.Fprintf(w, "tree:      %s\n", tree)
			if vars := prog.Variables(); len(vars) > 0 {
				fmt.Fprintf(w, "variables: %s\n", strings.Join(vars, ", "))
			}
			return nil
		},
	}
	cmd.Flags().String("grammar", "auto", "Grammar to match: auto, arithmetic, comparison or logical")
	return cmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check EXPR...",
		Short: "Report which grammars accept an expression",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			writeCheck(cmd.OutOrStdout(), api.Check(strings.Join(args, " ")))
			return nil
		},
	}
}

func writeCheck(w io.Writer, res api.CheckResult) {
	if res.TokenError != "" {
		failColor.Fprintf(w, "invalid input: %s\n", res.TokenError)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, g := range []expr.Grammar{expr.GrammarArithmetic, expr.GrammarComparison, expr.GrammarLogical} {
		fmt.Fprintf(tw, "%s\t%s\n", g, yesNo(res.Grammars[g.String()]))
	}
	if res.Circle != nil {
		fmt.Fprintf(tw, "circle\tyes (r^2 = %s)\n", res.Circle.RadiusSquared)
	} else {
		fmt.Fprintf(tw, "circle\t%s\n", yesNo(false))
	}
	tw.Flush()
}

func yesNo(ok bool) string {
	if ok {
		return okColor.Sprint("yes")
	}
	return failColor.Sprint("no")
}

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "query SQL...",
		Short:   "Run a SELECT statement over dataset files",
		Example: `  mexpr query --datasets-dir ./data "select a, b from app where a <= 100"`,
		Args:    cobra.MinimumNArgs(1),
		RunE:    runQuery,
	}
	cmd.Flags().String("datasets-dir", ".", "Directory of dataset YAML/JSON files")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("datasets-dir")
	files, err := parser.LoadDir(dir)
	if err != nil && len(files) == 0 {
		return err
	}
	w := cmd.OutOrStdout()
	if err != nil {
		dimColor.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
	}

	s := store.New()
	for _, f := range files {
		s.PutDataset(f.Name, f.Description, f.Rows)
	}

	q, res, err := sqlselect.Run(strings.Join(args, " "), s)
	if err != nil {
		return err
	}

	dimColor.Fprintf(w, "-- %s\n", q.Canonical)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = v.String()
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()

	fmt.Fprintf(w, "(%d rows", len(res.Rows))
	if res.Skipped > 0 {
		failColor.Fprintf(w, ", %d skipped", res.Skipped)
	}
	fmt.Fprintln(w, ")")
	return nil
}
