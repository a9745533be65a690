package conflict

import (
	"fmt"

	"github.com/ShayCichocki/coordex/pkg/models"
)

// Strategy produces a candidate Resolution for a Conflict it can handle.
// New strategies are appended to the chain without touching existing ones.
type Strategy interface {
	Name() string
	CanHandle(c *Conflict) bool
	Resolve(c *Conflict) (*Resolution, error)
	IdentifyRisks(c *Conflict) []string
}

// DefaultChain is the ordered strategy chain GenerateSuggestions runs.
func DefaultChain() []Strategy {
	return []Strategy{
		TrivialMergeStrategy{},
		StructuralMergeStrategy{},
		ConcurrentEditStrategy{},
		FallbackStrategy{},
	}
}

// TrivialMergeStrategy handles TRIVIAL conflicts: ours and theirs normalize
// to the same content, so either side's verbatim text is a correct merge.
type TrivialMergeStrategy struct{}

func (TrivialMergeStrategy) Name() string { return "TrivialMerge" }

func (TrivialMergeStrategy) CanHandle(c *Conflict) bool {
	return c.Type == models.ConflictTrivial
}

func (TrivialMergeStrategy) Resolve(c *Conflict) (*Resolution, error) {
	return &Resolution{
		Content:      c.Region.Ours,
		StrategyUsed: "TrivialMerge",
		Explanation:  "both sides normalize to identical content; took ours verbatim",
	}, nil
}

func (TrivialMergeStrategy) IdentifyRisks(c *Conflict) []string { return nil }

// StructuralMergeStrategy handles STRUCTURAL conflicts: both sides only add
// or remove whole spans (imports, new declarations), so the union of both
// sides' additions is a correct merge.
type StructuralMergeStrategy struct{}

func (StructuralMergeStrategy) Name() string { return "StructuralMerge" }

func (StructuralMergeStrategy) CanHandle(c *Conflict) bool {
	return c.Type == models.ConflictStructural
}

func (StructuralMergeStrategy) Resolve(c *Conflict) (*Resolution, error) {
	merged := c.Region.Ours
	if c.Region.Theirs != "" && c.Region.Theirs != c.Region.Ours {
		merged = c.Region.Ours + "\n" + c.Region.Theirs
	}
	return &Resolution{
		Content:      merged,
		StrategyUsed: "StructuralMerge",
		Explanation:  "both sides add disjoint declarations; unioned both additions",
	}, nil
}

func (StructuralMergeStrategy) IdentifyRisks(c *Conflict) []string {
	return []string{"union may duplicate an identically-named declaration if spans weren't truly disjoint"}
}

// ConcurrentEditStrategy handles SEMANTIC and CONCURRENT_EDIT conflicts by
// emitting ours annotated with a comment flagging the unresolved side, for
// a human or a higher-tier agent to reconcile.
type ConcurrentEditStrategy struct{}

func (ConcurrentEditStrategy) Name() string { return "ConcurrentEdit" }

func (ConcurrentEditStrategy) CanHandle(c *Conflict) bool {
	return c.Type == models.ConflictSemantic || c.Type == models.ConflictConcurrentEdit
}

func (ConcurrentEditStrategy) Resolve(c *Conflict) (*Resolution, error) {
	content := fmt.Sprintf("/* CONFLICT: both branches modified this region; kept ours, theirs below */\n%s\n/*\n%s\n*/",
		c.Region.Ours, c.Region.Theirs)
	return &Resolution{
		Content:      content,
		StrategyUsed: "ConcurrentEdit",
		Explanation:  "both sides modified the same region; annotated ours with theirs for manual review",
		Risks:        []string{"semantic intent of theirs' edit is not preserved in the merged behavior"},
	}, nil
}

func (ConcurrentEditStrategy) IdentifyRisks(c *Conflict) []string {
	return []string{"semantic intent of theirs' edit is not preserved in the merged behavior"}
}

// FallbackStrategy always takes ours, used when no other strategy applies.
type FallbackStrategy struct{}

func (FallbackStrategy) Name() string { return "Fallback" }

func (FallbackStrategy) CanHandle(c *Conflict) bool { return true }

func (FallbackStrategy) Resolve(c *Conflict) (*Resolution, error) {
	return &Resolution{
		Content:      c.Region.Ours,
		StrategyUsed: "Fallback",
		Explanation:  "no specific strategy applied; defaulted to ours",
		Risks:        []string{"theirs' change was discarded entirely"},
	}, nil
}

func (FallbackStrategy) IdentifyRisks(c *Conflict) []string {
	return []string{"theirs' change was discarded entirely"}
}

// RunChain returns the first applicable strategy's resolution plus every
// applicable strategy's candidate resolution, for confidence-ranked output.
func RunChain(chain []Strategy, c *Conflict) (*Resolution, []*Resolution, error) {
	var candidates []*Resolution
	var first *Resolution

	for _, s := range chain {
		if !s.CanHandle(c) {
			continue
		}
		res, err := s.Resolve(c)
		if err != nil {
			continue
		}
		if res.Risks == nil {
			res.Risks = s.IdentifyRisks(c)
		}
		candidates = append(candidates, res)
		if first == nil {
			first = res
		}
	}

	if first == nil {
		return nil, nil, fmt.Errorf("no strategy in the chain could handle conflict in %s", c.FilePath)
	}
	return first, candidates, nil
}
