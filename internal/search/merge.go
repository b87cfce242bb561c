package search

import (
	"sort"

	"github.com/framesift/framesift/internal/models"
)

// Match is one model-reported hit, pinned to a persisted analysis record.
// The timestamp is authoritative (copied from the stored record), never
// the model-echoed value.
type Match struct {
	Timestamp float64 `json:"timestamp"`
	Frame     int     `json:"frame"`
	Context   string  `json:"context"`
}

// TimeRange is a merged, displayable interval built from one or more
// matches.
type TimeRange struct {
	Start          float64  `json:"start"`
	End            float64  `json:"end"`
	StartFormatted string   `json:"startFormatted"`
	EndFormatted   string   `json:"endFormatted"`
	Contexts       []string `json:"contexts"`
	Frames         []int    `json:"frames"`
}

// Above this sampling interval adjacent frames are a minute apart or
// more, and "adjacency" has no meaningful interpretation; every match
// stands alone.
const largeIntervalThreshold = 60.0

// MergeRanges consolidates raw per-frame matches into non-overlapping
// time ranges sorted ascending by start. With a coarse interval each
// match becomes an isolated [t, t+interval] range; otherwise consecutive
// matches within one interval of the current range's end are merged
// greedily.
func MergeRanges(matches []Match, frameInterval float64) []TimeRange {
	if len(matches) == 0 {
		return nil
	}

	sorted := append([]Match(nil), matches...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	if frameInterval > largeIntervalThreshold {
		ranges := make([]TimeRange, 0, len(sorted))
		for _, m := range sorted {
			ranges = append(ranges, newRange(m, frameInterval))
		}
		return ranges
	}

	var ranges []TimeRange
	current := newRange(sorted[0], frameInterval)

	for _, m := range sorted[1:] {
		if m.Timestamp <= current.End+frameInterval {
			current.End = m.Timestamp + frameInterval
			current.EndFormatted = models.FormatTimestamp(current.End)
			current.Contexts = append(current.Contexts, m.Context)
			current.Frames = append(current.Frames, m.Frame)
			continue
		}
		ranges = append(ranges, current)
		current = newRange(m, frameInterval)
	}
	ranges = append(ranges, current)

	return ranges
}

func newRange(m Match, frameInterval float64) TimeRange {
	return TimeRange{
		Start:          m.Timestamp,
		End:            m.Timestamp + frameInterval,
		StartFormatted: models.FormatTimestamp(m.Timestamp),
		EndFormatted:   models.FormatTimestamp(m.Timestamp + frameInterval),
		Contexts:       []string{m.Context},
		Frames:         []int{m.Frame},
	}
}
