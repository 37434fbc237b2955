// Package lens renders the store into a token-budgeted summary for a
// downstream reasoning context.
package lens

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lazypower/metacog/internal/engine"
	"github.com/lazypower/metacog/internal/store"
)

const (
	// DefaultBudget is the body budget in approximate tokens.
	DefaultBudget = 1500

	// FooterReserve is held back from the category sections for the
	// curiosity and cluster footer.
	FooterReserve = 80

	// MinCategoryBudget is the floor for each non-empty category.
	MinCategoryBudget = 30

	recencyWindow       = 30 * 24 * time.Hour
	footerCuriosities   = 3
	footerClusters      = 3
	clusterMembersShown = 4
	clusterMemberRunes  = 60
)

var titles = map[store.Type]string{
	store.Perceptions:      "Perceptions",
	store.Overrides:        "Overrides",
	store.Protections:      "Protections",
	store.SelfObservations: "Self-Observations",
	store.Decisions:        "Decisions",
	store.Curiosities:      "Curiosities",
}

// Tokens approximates the token count of s as ceil(bytes/4).
func Tokens(s string) int {
	return (len(s) + 3) / 4
}

// Priority weights strength by recency: strength * exp(-days/30) since the
// entry was last reinforced. Presentation only; stored strength is untouched.
func Priority(e *store.Entry, now time.Time) float64 {
	age := now.Sub(e.LastReinforced)
	if age < 0 {
		age = 0
	}
	return e.Strength * math.Exp(-float64(age)/float64(recencyWindow))
}

// DefaultPath returns the default lens path: ~/.metacog/lens.md
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".metacog", "lens.md"), nil
}

// WriteFile atomically replaces the lens file at path.
func WriteFile(path, text string) error {
	if err := store.WriteAtomic(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("write lens: %w", err)
	}
	return nil
}

// budget tracks token spend against a hard limit.
type budget struct {
	b     strings.Builder
	used  int
	limit int
}

func (w *budget) left() int { return w.limit - w.used }

// section writes heading and as many lines as fit within quota tokens (and
// the overall limit). Nothing is written unless the heading and at least
// one line fit. Returns the number of lines written.
func (w *budget) section(heading string, lines []string, quota int) int {
	if len(lines) == 0 {
		return 0
	}
	if quota > w.left() {
		quota = w.left()
	}
	spent := Tokens(heading)
	if spent+Tokens(lines[0]) > quota {
		return 0
	}
	w.b.WriteString(heading)
	n := 0
	for _, line := range lines {
		cost := Tokens(line)
		if spent+cost > quota {
			break
		}
		w.b.WriteString(line)
		spent += cost
		n++
	}
	w.used += spent
	return n
}

func header(st *store.Store, now time.Time) string {
	return fmt.Sprintf("# Metacognitive Lens\n_Compiled %s from %d insights and %d links._\n",
		now.UTC().Format("2006-01-02 15:04 UTC"), len(st.Entries), len(st.Edges))
}

// Compile renders st within budget approximate tokens. The header is always
// included and is the only part not charged against the budget.
func Compile(st *store.Store, budgetTokens int, now time.Time) string {
	if budgetTokens < 0 {
		budgetTokens = 0
	}
	w := &budget{limit: budgetTokens}
	w.b.WriteString(header(st, now))

	total := len(st.Entries)
	if total == 0 {
		w.section("", []string{"\n_No insights recorded yet._\n"}, w.left())
		return w.b.String()
	}

	remaining := budgetTokens - FooterReserve
	if remaining < 0 {
		remaining = 0
	}

	for _, t := range store.Types {
		entries := st.ByType(t)
		if len(entries) == 0 {
			continue
		}
		catBudget := remaining * len(entries) / total
		if catBudget < MinCategoryBudget {
			catBudget = MinCategoryBudget
		}
		// Categories never spend the footer reserve.
		if room := remaining - w.used; catBudget > room {
			catBudget = room
		}
		sortByPriority(entries, now)
		lines := make([]string, len(entries))
		for i, e := range entries {
			lines[i] = "- " + oneLine(e.Text) + "\n"
		}
		w.section("\n## "+titles[t]+"\n", lines, catBudget)
	}

	w.section("\n## Open Curiosities\n", curiosityLines(st, now), w.left())
	w.section("\n## Clusters\n", clusterLines(st, now), w.left())
	return w.b.String()
}

func sortByPriority(entries []*store.Entry, now time.Time) {
	sort.SliceStable(entries, func(i, j int) bool {
		pi, pj := Priority(entries[i], now), Priority(entries[j], now)
		if pi != pj {
			return pi > pj
		}
		return entries[i].ID < entries[j].ID
	})
}

// curiosityLines lists the highest-priority unresolved curiosities.
func curiosityLines(st *store.Store, now time.Time) []string {
	var open []*store.Entry
	for _, e := range st.ByType(store.Curiosities) {
		if e.Stage() != store.Resolved {
			open = append(open, e)
		}
	}
	sortByPriority(open, now)
	if len(open) > footerCuriosities {
		open = open[:footerCuriosities]
	}

	lines := make([]string, len(open))
	for i, e := range open {
		lines[i] = fmt.Sprintf("- %s (%s)\n", oneLine(e.Text), e.Stage())
	}
	return lines
}

// clusterLines lists the clusters with the highest summed member priority.
func clusterLines(st *store.Store, now time.Time) []string {
	type ranked struct {
		members []*store.Entry
		score   float64
	}
	var clusters []ranked
	for _, c := range engine.FindClusters(st) {
		r := ranked{}
		for _, id := range c.IDs {
			e := st.Get(id)
			r.members = append(r.members, e)
			r.score += Priority(e, now)
		}
		sortByPriority(r.members, now)
		clusters = append(clusters, r)
	}
	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].score > clusters[j].score
	})
	if len(clusters) > footerClusters {
		clusters = clusters[:footerClusters]
	}

	lines := make([]string, len(clusters))
	for i, c := range clusters {
		shown := c.members
		if len(shown) > clusterMembersShown {
			shown = shown[:clusterMembersShown]
		}
		parts := make([]string, len(shown))
		for j, e := range shown {
			parts[j] = shorten(oneLine(e.Text), clusterMemberRunes)
		}
		line := "- " + strings.Join(parts, " · ")
		if extra := len(c.members) - len(shown); extra > 0 {
			line += fmt.Sprintf(" (+%d more)", extra)
		}
		lines[i] = line + "\n"
	}
	return lines
}

// oneLine collapses internal whitespace so an entry renders on one line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func shorten(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
