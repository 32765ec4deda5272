// Package definitions loads engine content (timelines, dialog trees, objection handlers,
// specialists) from a YAML file and seeds the repositories with it.
package definitions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"engagement-platform/internal/condition"
	"engagement-platform/internal/dialog"
	"engagement-platform/internal/objection"
	"engagement-platform/internal/specialist"
	"engagement-platform/internal/timeline"

	"gopkg.in/yaml.v3"
)

// Document is the top-level layout of a definitions file.
type Document struct {
	Timelines         []timeline.Timeline     `yaml:"timelines"`
	DialogTrees       []dialog.Tree           `yaml:"dialog_trees"`
	ObjectionHandlers []objection.Handler     `yaml:"objection_handlers"`
	Specialists       []specialist.Specialist `yaml:"specialists"`
}

// LoadFile reads and validates path. Warnings describe content that loads but will fail
// open or escalate at runtime.
func LoadFile(path string) (Document, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (Document, []string, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, nil, fmt.Errorf("definitions: %w", err)
	}
	// Declaration order breaks priority ties within a day.
	for i := range doc.Timelines {
		for j := range doc.Timelines[i].Actions {
			doc.Timelines[i].Actions[j].Sequence = j
			doc.Timelines[i].Actions[j].TimelineID = doc.Timelines[i].ID
		}
	}
	warnings, err := Validate(doc)
	if err != nil {
		return Document{}, warnings, err
	}
	return doc, warnings, nil
}

// Validate returns every structural error joined, plus warnings for dangling references
// and conditions the evaluator will not understand.
func Validate(doc Document) ([]string, error) {
	var (
		errs     []error
		warnings []string
	)
	fail := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	warn := func(format string, args ...any) { warnings = append(warnings, fmt.Sprintf(format, args...)) }

	timelineIDs := map[string]bool{}
	activeStage := map[string]string{}
	for _, tl := range doc.Timelines {
		if strings.TrimSpace(tl.ID) == "" {
			fail("timeline: id required")
			continue
		}
		if timelineIDs[tl.ID] {
			fail("timeline %s: duplicate id", tl.ID)
		}
		timelineIDs[tl.ID] = true
		if tl.DurationDays < 1 {
			fail("timeline %s: duration_days must be at least 1", tl.ID)
		}
		if tl.Active {
			if other, ok := activeStage[tl.PipelineStage]; ok {
				fail("timeline %s: stage %q already has active timeline %s", tl.ID, tl.PipelineStage, other)
			} else {
				activeStage[tl.PipelineStage] = tl.ID
			}
		}

		actionIDs := map[string]bool{}
		days := map[int]bool{}
		for _, a := range tl.Actions {
			switch {
			case strings.TrimSpace(a.ID) == "":
				fail("timeline %s: action id required", tl.ID)
			case actionIDs[a.ID]:
				fail("timeline %s: duplicate action id %s", tl.ID, a.ID)
			}
			actionIDs[a.ID] = true
			if a.Day < 1 || a.Day > tl.DurationDays {
				fail("timeline %s: action %s day %d outside 1..%d", tl.ID, a.ID, a.Day, tl.DurationDays)
			}
			if !a.Channel.Valid() {
				fail("timeline %s: action %s has unknown channel %q", tl.ID, a.ID, a.Channel)
			}
			if a.Condition != nil && a.Condition.Kind == condition.KindUnknown {
				warn("timeline %s: action %s condition %q is not understood and will never skip", tl.ID, a.ID, a.Condition.Raw)
			}
			if a.Active {
				days[a.Day] = true
			}
		}
		if tl.Active {
			for d := 1; d <= tl.DurationDays; d++ {
				if !days[d] {
					warn("timeline %s: no active actions on day %d", tl.ID, d)
				}
			}
		}
	}

	nodeKeys := map[string]bool{}
	treeIDs := map[string]bool{}
	for _, t := range doc.DialogTrees {
		if strings.TrimSpace(t.ID) == "" {
			fail("dialog tree: id required")
			continue
		}
		if treeIDs[t.ID] {
			fail("dialog tree %s: duplicate id", t.ID)
		}
		treeIDs[t.ID] = true
		if strings.TrimSpace(t.Trigger) == "" {
			fail("dialog tree %s: trigger required", t.ID)
		}
		if len(t.Nodes) == 0 {
			fail("dialog tree %s: no nodes", t.ID)
		}
		keys := map[string]bool{}
		for _, n := range t.Nodes {
			switch {
			case strings.TrimSpace(n.Key) == "":
				fail("dialog tree %s: node key required", t.ID)
			case keys[n.Key]:
				fail("dialog tree %s: duplicate node key %s", t.ID, n.Key)
			}
			keys[n.Key] = true
			nodeKeys[n.Key] = true
			switch n.Type {
			case dialog.NodeStart, dialog.NodeQuestion, dialog.NodeEnd:
			case dialog.NodeAction:
				if n.Action == nil && n.DefaultNext == "" {
					warn("dialog tree %s: action node %s does nothing", t.ID, n.Key)
				}
			default:
				fail("dialog tree %s: node %s has unknown type %q", t.ID, n.Key, n.Type)
			}
		}
		for _, n := range t.Nodes {
			refs := []string{n.DefaultNext}
			for _, b := range n.Branches {
				refs = append(refs, b.NextNode)
			}
			for _, r := range refs {
				if r != "" && !keys[r] {
					warn("dialog tree %s: node %s points at missing node %s", t.ID, n.Key, r)
				}
			}
		}
	}

	handlerIDs := map[string]bool{}
	for _, h := range doc.ObjectionHandlers {
		if strings.TrimSpace(h.ID) == "" {
			fail("objection handler: id required")
			continue
		}
		if handlerIDs[h.ID] {
			fail("objection handler %s: duplicate id", h.ID)
		}
		handlerIDs[h.ID] = true
		if strings.TrimSpace(h.TriggerPhrase) == "" && len(h.Keywords) == 0 {
			fail("objection handler %s: trigger_phrase or keywords required", h.ID)
		}
		if h.SuccessRate < 0 || h.SuccessRate > 100 {
			fail("objection handler %s: success_rate must be within 0..100", h.ID)
		}
		if h.Next.Kind == objection.NextGoto && !nodeKeys[h.Next.Node] {
			warn("objection handler %s: next_action node %s is not in any dialog tree", h.ID, h.Next.Node)
		}
	}

	specialistIDs := map[string]bool{}
	for _, s := range doc.Specialists {
		if strings.TrimSpace(s.ID) == "" {
			fail("specialist: id required")
			continue
		}
		if specialistIDs[s.ID] {
			fail("specialist %s: duplicate id", s.ID)
		}
		specialistIDs[s.ID] = true
		if s.MaxCustomers < 0 {
			fail("specialist %s: max_customers must not be negative", s.ID)
		}
		if s.Satisfaction < 0 || s.Satisfaction > 5 {
			fail("specialist %s: satisfaction must be within 0..5", s.ID)
		}
	}

	return warnings, errors.Join(errs...)
}

// Repos are the stores Seed writes to. Nil stores are skipped.
type Repos struct {
	Timelines   timeline.Repository
	Dialogs     dialog.Repository
	Objections  objection.Repository
	Specialists specialist.Repository
}

// Seed upserts every definition in document order.
func Seed(ctx context.Context, doc Document, r Repos) error {
	if r.Timelines != nil {
		for _, tl := range doc.Timelines {
			if err := r.Timelines.SaveTimeline(ctx, tl); err != nil {
				return fmt.Errorf("seed timeline %s: %w", tl.ID, err)
			}
		}
	}
	if r.Dialogs != nil {
		for _, t := range doc.DialogTrees {
			if err := r.Dialogs.SaveTree(ctx, t); err != nil {
				return fmt.Errorf("seed dialog tree %s: %w", t.ID, err)
			}
		}
	}
	if r.Objections != nil {
		for _, h := range doc.ObjectionHandlers {
			if err := r.Objections.SaveHandler(ctx, h); err != nil {
				return fmt.Errorf("seed objection handler %s: %w", h.ID, err)
			}
		}
	}
	if r.Specialists != nil {
		for _, s := range doc.Specialists {
			if err := r.Specialists.SaveSpecialist(ctx, s); err != nil {
				return fmt.Errorf("seed specialist %s: %w", s.ID, err)
			}
		}
	}
	return nil
}
