package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/metacog/internal/engine"
	"github.com/lazypower/metacog/internal/lens"
)

// --- decay command ---

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Apply time decay and prune faded insights and links",
	Args:  cobra.NoArgs,
	RunE:  runDecay,
}

func runDecay(cmd *cobra.Command, args []string) error {
	b, st, err := openStore()
	if err != nil {
		return err
	}
	res := newEngine().Decay(st)
	if err := saveStore(b, st); err != nil {
		return err
	}
	printDecay(cmd.OutOrStdout(), res)
	return nil
}

func printDecay(w io.Writer, res engine.DecayResult) {
	fmt.Fprintf(w, "Decay: %d insights decayed, %d pruned; %d links decayed, %d pruned\n",
		res.Decayed, res.Pruned, res.EdgesDecayed, res.EdgesPruned)
}

// --- extract command ---

var extractCmd = &cobra.Command{
	Use:   "extract <note>...",
	Short: "Extract insights from note files",
	Long:  "Scan note files for tagged lines, phrasal patterns and reflection bullets, and add what they contain.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExtract,
}

func runExtract(cmd *cobra.Command, args []string) error {
	b, st, err := openStore()
	if err != nil {
		return err
	}
	res, err := newEngine().ExtractFiles(cmd.Context(), st, args...)
	if err != nil {
		return err
	}
	if err := saveStore(b, st); err != nil {
		return err
	}
	printExtract(cmd.OutOrStdout(), res)
	return nil
}

func printExtract(w io.Writer, res engine.ExtractResult) {
	fmt.Fprintf(w, "Extract: %d candidates, %d added, %d reinforced", res.Candidates, res.Added, res.Merged)
	if res.Evicted > 0 {
		fmt.Fprintf(w, ", %d evicted", res.Evicted)
	}
	fmt.Fprintln(w)
}

// --- reweave command ---

var reweaveCmd = &cobra.Command{
	Use:   "reweave",
	Short: "Rebuild links between related insights and boost clusters",
	Args:  cobra.NoArgs,
	RunE:  runReweave,
}

func runReweave(cmd *cobra.Command, args []string) error {
	b, st, err := openStore()
	if err != nil {
		return err
	}
	res := newEngine().Reweave(cmd.Context(), st)
	if err := saveStore(b, st); err != nil {
		return err
	}
	printReweave(cmd.OutOrStdout(), res)
	return nil
}

func printReweave(w io.Writer, res engine.ReweaveResult) {
	fmt.Fprintf(w, "Reweave: %d new links, %d reinforced, %d pruned, %d clusters",
		res.NewEdges, res.ReinforcedEdges, res.PrunedEdges, len(res.Clusters))
	if res.Embedded > 0 {
		fmt.Fprintf(w, ", %d embeddings fetched", res.Embedded)
	}
	fmt.Fprintln(w)
}

// --- graph command ---

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Show links and clusters",
	Args:  cobra.NoArgs,
	RunE:  runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(st.Edges) == 0 {
		fmt.Fprintln(out, "No links yet. Run reweave first.")
		return nil
	}

	fmt.Fprintf(out, "## Links (%d)\n\n", len(st.Edges))
	for _, e := range st.Edges {
		fmt.Fprintf(out, "%s -- %s  %.2f  seen %s\n", e.Source, e.Target, e.Weight, humanize.Time(e.LastSeen))
	}

	clusters := engine.FindClusters(st)
	fmt.Fprintf(out, "\n## Clusters (%d)\n", len(clusters))
	for i, c := range clusters {
		fmt.Fprintf(out, "\n%d. %d insights\n", i+1, c.Size())
		for _, id := range c.IDs {
			if e := st.Get(id); e != nil {
				fmt.Fprintf(out, "   %s [%s] %s\n", e.ID, e.Type, e.Text)
			}
		}
	}
	return nil
}

// --- compile command ---

var (
	compileBudget int
	compileStdout bool
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile the lens file",
	Args:  cobra.NoArgs,
	RunE:  runCompile,
}

func runCompile(cmd *cobra.Command, args []string) error {
	budget := cfg.Lens.TokenBudget
	if cmd.Flags().Changed("budget") {
		budget = compileBudget
	}

	_, st, err := openStore()
	if err != nil {
		return err
	}
	text := lens.Compile(st, budget, time.Now().UTC())
	if compileStdout {
		fmt.Fprint(cmd.OutOrStdout(), text)
		return nil
	}
	path, err := writeLens(text)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Lens: %s (~%d tokens)\n", path, lens.Tokens(text))
	return nil
}

func writeLens(text string) (string, error) {
	path, err := lensPath()
	if err != nil {
		return "", fmt.Errorf("resolve lens path: %w", err)
	}
	if err := lens.WriteFile(path, text); err != nil {
		logger.Error("lens: write failed", zap.String("path", path), zap.Error(err))
		return "", err
	}
	return path, nil
}

// --- integrate command ---

var integrateCmd = &cobra.Command{
	Use:   "integrate [note]...",
	Short: "Decay, extract from notes, reweave and compile in one pass",
	RunE:  runIntegrate,
}

func runIntegrate(cmd *cobra.Command, args []string) error {
	b, st, err := openStore()
	if err != nil {
		return err
	}
	res, err := newEngine().Integrate(cmd.Context(), st, args...)
	if err != nil {
		return err
	}
	if err := saveStore(b, st); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printDecay(out, res.Decay)
	printExtract(out, res.Extract)
	printReweave(out, res.Reweave)

	path, err := writeLens(lens.Compile(st, cfg.Lens.TokenBudget, time.Now().UTC()))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Lens: %s\n", path)
	logger.Info("integrate: complete", zap.Int("entries", len(st.Entries)), zap.Int("edges", len(st.Edges)))
	return nil
}

func init() {
	compileCmd.Flags().IntVarP(&compileBudget, "budget", "b", lens.DefaultBudget, "Token budget (default from config)")
	compileCmd.Flags().BoolVar(&compileStdout, "stdout", false, "Print the lens instead of writing it")
}
