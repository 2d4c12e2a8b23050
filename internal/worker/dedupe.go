package worker

import (
	"sort"
	"strings"

	"github.com/clipbeat/api/internal/client"
)

// DedupeSongs collapses candidate matches to one entry per track and
// ranks them by confidence, highest first. Tracks group by ISRC when
// present, otherwise by case-insensitive "title-artist"; within a group
// only the highest-confidence candidate survives. Total and
// deterministic: empty in, empty out, and reapplying is a no-op.
func DedupeSongs(songs []client.RecognizedSong) []client.RecognizedSong {
	best := make(map[string]client.RecognizedSong, len(songs))
	order := make([]string, 0, len(songs))

	for _, s := range songs {
		key := s.ISRC
		if key == "" {
			key = strings.ToLower(s.Title) + "-" + strings.ToLower(s.Artist)
		}
		existing, seen := best[key]
		if !seen {
			order = append(order, key)
		}
		if !seen || s.Confidence > existing.Confidence {
			best[key] = s
		}
	}

	out := make([]client.RecognizedSong, 0, len(best))
	for _, key := range order {
		out = append(out, best[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}
