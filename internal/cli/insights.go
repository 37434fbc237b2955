package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lazypower/metacog/internal/engine"
	"github.com/lazypower/metacog/internal/store"
)

func typeNames() string {
	names := make([]string, len(store.Types))
	for i, t := range store.Types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// --- add command ---

var addCmd = &cobra.Command{
	Use:   "add <type> <text...>",
	Short: "Add an insight, or reinforce the one it duplicates",
	Long:  "Add an insight to a category. Near-duplicates of an existing insight reinforce it instead.\n\nCategories: " + typeNames(),
	Args:  cobra.MinimumNArgs(2),
	RunE:  runAdd,
}

func runAdd(cmd *cobra.Command, args []string) error {
	typ, ok := store.ParseType(args[0])
	if !ok {
		return fmt.Errorf("%w %q (want one of: %s)", engine.ErrInvalidType, args[0], typeNames())
	}
	text := strings.Join(args[1:], " ")

	b, st, err := openStore()
	if err != nil {
		return err
	}
	entry, merged, err := newEngine().Add(cmd.Context(), st, typ, text)
	if err != nil {
		return err
	}
	if err := saveStore(b, st); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if merged {
		fmt.Fprintf(out, "Reinforced %s [%s] strength %.2f (x%d)\n", entry.ID, entry.Type, entry.Strength, entry.Reinforcements)
	} else {
		fmt.Fprintf(out, "Added %s [%s]\n", entry.ID, entry.Type)
	}
	if entry.Curiosity != nil {
		fmt.Fprintf(out, "  stage: %s\n", entry.Stage())
	}
	return nil
}

// --- list command ---

var listType string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List insights by strength",
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	var filter store.Type
	if listType != "" {
		t, ok := store.ParseType(listType)
		if !ok {
			return fmt.Errorf("%w %q (want one of: %s)", engine.ErrInvalidType, listType, typeNames())
		}
		filter = t
	}

	_, st, err := openStore()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	shown := 0
	for _, e := range st.SortedEntries() {
		if filter != "" && e.Type != filter {
			continue
		}
		stage := ""
		if e.Curiosity != nil {
			stage = " (" + string(e.Stage()) + ")"
		}
		fmt.Fprintf(out, "%s  %-17s %.2f  x%-3d %s%s\n", e.ID, e.Type, e.Strength, e.Reinforcements,
			humanize.Time(e.LastReinforced), stage)
		fmt.Fprintf(out, "   %s\n", e.Text)
		shown++
	}
	if shown == 0 {
		fmt.Fprintln(out, "No insights found.")
	}
	return nil
}

// --- feedback command ---

var (
	feedbackPositive bool
	feedbackNegative bool
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <id>",
	Short: "Reinforce or weaken an insight",
	Long:  "Positive feedback reinforces an insight; negative feedback weakens it and removes it once it falls below the floor.",
	Args:  cobra.ExactArgs(1),
	RunE:  runFeedback,
}

func runFeedback(cmd *cobra.Command, args []string) error {
	b, st, err := openStore()
	if err != nil {
		return err
	}
	entry, pruned, err := newEngine().Feedback(st, args[0], feedbackPositive)
	if err != nil {
		return err
	}
	if err := saveStore(b, st); err != nil {
		return err
	}

	if pruned {
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %s (fell below %.2f)\n", entry.ID, store.StrengthFloor)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s strength %.2f\n", entry.ID, entry.Strength)
	return nil
}

// --- resolve command ---

var resolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Mark a curiosity resolved",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

func runResolve(cmd *cobra.Command, args []string) error {
	b, st, err := openStore()
	if err != nil {
		return err
	}
	entry, err := newEngine().Resolve(st, args[0])
	if err != nil {
		return err
	}
	if err := saveStore(b, st); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s\n", entry.ID)
	return nil
}

func init() {
	listCmd.Flags().StringVarP(&listType, "type", "t", "", "Only list this category")

	feedbackCmd.Flags().BoolVar(&feedbackPositive, "positive", false, "Reinforce the insight")
	feedbackCmd.Flags().BoolVar(&feedbackNegative, "negative", false, "Weaken the insight")
	feedbackCmd.MarkFlagsMutuallyExclusive("positive", "negative")
	feedbackCmd.MarkFlagsOneRequired("positive", "negative")
}
