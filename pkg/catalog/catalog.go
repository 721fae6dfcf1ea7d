// Package catalog defines the relationship catalog: the static table of
// which event kinds may be linked to which other kinds, plus the two
// linking tunables (time window, per-event link cap).
//
// The catalog is defined exhaustively over the closed EventKind enumeration
// and validated once at startup. Validation enforces the symmetry rule: if
// kind X lists kind Y as related, kind Y must list X. An asymmetric catalog
// is rejected with diagnostics rather than silently producing one-sided
// links later.
//
// Example Usage:
//
//	cat := catalog.Default()
//	if ok, problems := cat.Validate(); !ok {
//		for _, p := range problems {
//			log.Println("catalog:", p)
//		}
//		return
//	}
//
//	related := cat.RelatedTo(storage.KindGoal)
//	fmt.Println(related) // [assist shot_on_target]
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/matchlink/pkg/storage"
)

// Defaults for the linking tunables.
const (
	DefaultTimeWindowMS     = 15_000
	DefaultMaxLinksPerEvent = 3
)

// Catalog is the immutable kind-compatibility table plus tunables. Build
// one with Default() or Load(), validate it, then treat it as read-only.
type Catalog struct {
	// Related maps each event kind to the kinds it may be linked with.
	// Kinds with no entry (or an empty entry) never participate in
	// automatic linking.
	Related map[storage.EventKind][]storage.EventKind

	// TimeWindowMS is the half-width of the symmetric candidate window:
	// an event at clock t considers candidates in [t-W, t+W].
	TimeWindowMS int64

	// MaxLinksPerEvent caps the size of every event's linked set.
	MaxLinksPerEvent int
}

// Default returns the built-in catalog. The table is exhaustive over the
// closed kind enumeration; kinds that never link (cards, substitutions)
// carry explicit empty entries so the validator can tell "deliberately
// unlinked" from "forgotten".
func Default() *Catalog {
	return &Catalog{
		Related: map[storage.EventKind][]storage.EventKind{
			storage.KindGoal:          {storage.KindAssist, storage.KindShotOnTarget, storage.KindCorner},
			storage.KindAssist:        {storage.KindGoal},
			storage.KindShotOnTarget:  {storage.KindGoal, storage.KindSave},
			storage.KindShotOffTarget: {storage.KindTackle},
			storage.KindSave:          {storage.KindShotOnTarget},
			storage.KindTackle:        {storage.KindShotOffTarget, storage.KindFoul},
			storage.KindFoul:          {storage.KindTackle},
			storage.KindCorner:        {storage.KindGoal},
			storage.KindOwnGoal:       {},
			storage.KindYellowCard:    {},
			storage.KindRedCard:       {},
			storage.KindSubstitution:  {},
		},
		TimeWindowMS:     DefaultTimeWindowMS,
		MaxLinksPerEvent: DefaultMaxLinksPerEvent,
	}
}

// RelatedTo returns the kinds that may be linked with k. Returns nil for
// kinds with no configured relationships.
func (c *Catalog) RelatedTo(k storage.EventKind) []storage.EventKind {
	return c.Related[k]
}

// RelatedSet returns the related kinds of k as a set for membership tests.
func (c *Catalog) RelatedSet(k storage.EventKind) map[storage.EventKind]bool {
	related := c.Related[k]
	if len(related) == 0 {
		return nil
	}
	set := make(map[storage.EventKind]bool, len(related))
	for _, r := range related {
		set[r] = true
	}
	return set
}

// Validate checks the catalog for internal consistency. It returns ok plus
// a diagnostic for every problem found, so a misconfigured catalog can be
// fixed and revalidated rather than crashing the process.
//
// Checks:
//   - every key and every related kind is a member of the closed enumeration
//   - every kind of the enumeration has an entry (exhaustiveness)
//   - symmetry: X related to Y implies Y related to X
//   - no kind lists itself or lists a kind twice
//   - TimeWindowMS and MaxLinksPerEvent are positive
func (c *Catalog) Validate() (bool, []string) {
	var problems []string

	if c.TimeWindowMS <= 0 {
		problems = append(problems, fmt.Sprintf("time window must be positive, got %d", c.TimeWindowMS))
	}
	if c.MaxLinksPerEvent <= 0 {
		problems = append(problems, fmt.Sprintf("max links per event must be positive, got %d", c.MaxLinksPerEvent))
	}

	for kind, related := range c.Related {
		if !storage.ValidKind(kind) {
			problems = append(problems, fmt.Sprintf("unknown event kind %q", kind))
			continue
		}
		seen := make(map[storage.EventKind]bool, len(related))
		for _, r := range related {
			if !storage.ValidKind(r) {
				problems = append(problems, fmt.Sprintf("%s: unknown related kind %q", kind, r))
				continue
			}
			if r == kind {
				problems = append(problems, fmt.Sprintf("%s: kind lists itself", kind))
			}
			if seen[r] {
				problems = append(problems, fmt.Sprintf("%s: duplicate related kind %q", kind, r))
			}
			seen[r] = true

			if !contains(c.Related[r], kind) {
				problems = append(problems, fmt.Sprintf("asymmetric relationship: %s lists %s but %s does not list %s", kind, r, r, kind))
			}
		}
	}

	for _, kind := range storage.AllKinds {
		if _, ok := c.Related[kind]; !ok {
			problems = append(problems, fmt.Sprintf("no catalog entry for kind %q", kind))
		}
	}

	return len(problems) == 0, problems
}

func contains(kinds []storage.EventKind, k storage.EventKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// fileFormat is the YAML shape of a catalog override file:
//
//	timeWindowMs: 15000
//	maxLinksPerEvent: 3
//	related:
//	  goal: [assist, shot_on_target, corner]
//	  assist: [goal]
//	  ...
type fileFormat struct {
	TimeWindowMS     int64                                     `yaml:"timeWindowMs"`
	MaxLinksPerEvent int                                       `yaml:"maxLinksPerEvent"`
	Related          map[storage.EventKind][]storage.EventKind `yaml:"related"`
}

// Load reads a catalog from a YAML file. Omitted tunables fall back to the
// defaults; an omitted related table falls back to the default table. The
// loaded catalog is NOT validated here — call Validate so the caller can
// surface the diagnostics.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
	}

	cat := Default()
	if f.TimeWindowMS != 0 {
		cat.TimeWindowMS = f.TimeWindowMS
	}
	if f.MaxLinksPerEvent != 0 {
		cat.MaxLinksPerEvent = f.MaxLinksPerEvent
	}
	if f.Related != nil {
		cat.Related = f.Related
	}
	return cat, nil
}
