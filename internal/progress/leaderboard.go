package progress

import (
	"sort"
	"sync"

	"learnsync/pkg/types"
)

// Leaderboard is the client-side ranked list.
// FUNCTIONAL DISCOVERY: any single xp change re-sorts the whole list; ties keep
// their relative input order and no secondary key is applied
type Leaderboard struct {
	mu      sync.RWMutex
	entries []types.LeaderboardEntry
}

// NewLeaderboard creates an empty leaderboard.
func NewLeaderboard() *Leaderboard {
	return &Leaderboard{}
}

// Set replaces the list and ranks it. Rank deltas are computed against the
// ranks carried by the input rows.
func (l *Leaderboard) Set(entries []types.LeaderboardEntry) {
	next := make([]types.LeaderboardEntry, len(entries))
	copy(next, entries)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = next
	rerank(l.entries)
}

// Update applies a user's new xp and level and re-ranks. Unknown users are
// appended before ranking. It reports whether the user's rank changed.
func (l *Leaderboard) Update(userID string, xp, level int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i := range l.entries {
		if l.entries[i].UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.entries = append(l.entries, types.LeaderboardEntry{UserID: userID})
		idx = len(l.entries) - 1
	}
	l.entries[idx].XP = xp
	if level > 0 {
		l.entries[idx].Level = level
	}

	rerank(l.entries)
	for _, e := range l.entries {
		if e.UserID == userID {
			return e.RankChange != 0
		}
	}
	return false
}

// Entries returns a copy of the ranked list.
func (l *Leaderboard) Entries() []types.LeaderboardEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.LeaderboardEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Rank returns the user's current rank, 0 when absent.
func (l *Leaderboard) Rank(userID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.UserID == userID {
			return e.Rank
		}
	}
	return 0
}

// Clear empties the list.
func (l *Leaderboard) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// rerank stable-sorts by xp descending and assigns ranks 1..n. RankChange is
// old rank minus new rank, so moving up is positive. Entries without a
// previous rank get no delta.
func rerank(entries []types.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].XP > entries[j].XP
	})
	for i := range entries {
		newRank := i + 1
		if old := entries[i].Rank; old > 0 {
			entries[i].RankChange = old - newRank
		} else {
			entries[i].RankChange = 0
		}
		entries[i].Rank = newRank
	}
}
