package target

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const versionMarker = "VCS_"

// ExtractVersion parses the VCS number out of a title like
// " @localhost VCS_8 Dynamics". Titles without the marker, without digits
// after it, or with a number that does not fit in 32 bits yield 0.
func ExtractVersion(title string) uint32 {
	i := strings.Index(title, versionMarker)
	if i < 0 {
		return 0
	}
	rest := title[i+len(versionMarker):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.ParseUint(rest[:end], 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// Selection is the outcome of picking the freshest target of a category
type Selection struct {
	Target  DebugTarget
	Version uint32 // version of Target
	Highest uint32 // ratchet after this selection
}

// Select picks the candidate with the highest VCS number. When several share
// the maximum the last one in input order wins. The returned ratchet is never
// lower than prevHighest. ok is false when there are no candidates.
func Select(candidates []DebugTarget, prevHighest uint32) (sel Selection, ok bool) {
	if len(candidates) == 0 {
		return Selection{}, false
	}

	best := 0
	bestVersion := ExtractVersion(candidates[0].Title)
	for i := 1; i < len(candidates); i++ {
		if v := ExtractVersion(candidates[i].Title); v >= bestVersion {
			best, bestVersion = i, v
		}
	}

	highest := prevHighest
	if bestVersion > highest {
		highest = bestVersion
	}

	return Selection{
		Target:  candidates[best],
		Version: bestVersion,
		Highest: highest,
	}, true
}

// ChangeKind classifies a discovery result against the active path
type ChangeKind int

const (
	Unchanged ChangeKind = iota
	Initial
	Changed
)

func (k ChangeKind) String() string {
	switch k {
	case Initial:
		return "initial"
	case Changed:
		return "changed"
	default:
		return "unchanged"
	}
}

// Change describes what the orchestrator has to do for one category after a
// discovery cycle.
type Change struct {
	Kind    ChangeKind
	OldPath string
	NewPath string
	Version uint32
}

// Detect compares a selection with the category's current path. current is
// only meaningful when hasCurrent is true. candidateCount is the number of
// targets the selection was made from; more than one produces a warning when
// the selection is about to be adopted.
func Detect(sel Selection, ok bool, current string, hasCurrent bool, category Category, candidateCount int, log logrus.FieldLogger) Change {
	if !ok {
		return Change{Kind: Unchanged}
	}

	path := PathToken(sel.Target.WebSocketDebuggerURL)
	if path == "" {
		return Change{Kind: Unchanged, Version: sel.Highest}
	}

	if hasCurrent && current == path {
		return Change{Kind: Unchanged, Version: sel.Highest}
	}

	if candidateCount > 1 && log != nil {
		log.WithField("tag", "WARN").Warnf("Multiple alive %s targets found (%d), selecting highest VCS number!", category, candidateCount)
	}

	if !hasCurrent {
		return Change{Kind: Initial, NewPath: path, Version: sel.Highest}
	}
	return Change{Kind: Changed, OldPath: current, NewPath: path, Version: sel.Highest}
}
