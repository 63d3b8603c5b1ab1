// Package queue implements the per-player ordered track container: the
// currently-playing track, the upcoming sequence, and a bounded history
// ring, plus the shuffle variants used by the player.
package queue

import (
	"math/rand"

	"github.com/wavepool/wavepool/track"
)

// ChangeType enumerates the mutations a [Queue] can emit via its observer.
type ChangeType string

const (
	ChangeAdd        ChangeType = "add"
	ChangeRemove     ChangeType = "remove"
	ChangeClear      ChangeType = "clear"
	ChangeShuffle    ChangeType = "shuffle"
	ChangeRoundRobin ChangeType = "roundRobin"
	ChangeUserBlock  ChangeType = "userBlock"
	ChangeAutoPlayAdd ChangeType = "autoPlayAdd"
)

// Observer is notified after every mutation. tracks carries the
// change-specific payload (added tracks, removed range, or nil).
type Observer func(change ChangeType, tracks []track.Track)

// Queue holds one player's current track, upcoming sequence, and bounded
// previous-track history. The zero value is usable with MaxPrevious
// defaulting to 0 (no history kept); use [New] to get the documented
// default of 20.
type Queue struct {
	Current  *track.Track
	upcoming []track.Track
	previous []track.Track

	maxPrevious int
	botUserID   any
	observer    Observer
}

// New returns an empty [Queue] with the given previous-track history cap
// and bot-user handle (used to detect autoplay-inserted tracks).
func New(maxPrevious int, botUserID any, observer Observer) *Queue {
	if maxPrevious <= 0 {
		maxPrevious = 20
	}
	return &Queue{maxPrevious: maxPrevious, botUserID: botUserID, observer: observer}
}

// Upcoming returns the upcoming sequence in order. The returned slice must
// not be mutated by the caller.
func (q *Queue) Upcoming() []track.Track { return q.upcoming }

// Previous returns the history ring, oldest first.
func (q *Queue) Previous() []track.Track { return q.previous }

// Len returns the number of upcoming tracks (excluding Current).
func (q *Queue) Len() int { return len(q.upcoming) }

// TotalDurationMs sums Current (if any) and every upcoming track's duration.
func (q *Queue) TotalDurationMs() int64 {
	var total int64
	if q.Current != nil {
		total += q.Current.DurationMs
	}
	for _, t := range q.upcoming {
		total += t.DurationMs
	}
	return total
}

// Add appends tracks to the upcoming sequence, or inserts them at offset if
// given. If Current is nil, the first added track is promoted to Current
// instead of occupying a slot. Emits [ChangeAdd], or [ChangeAutoPlayAdd] if
// every added track's Requester equals the queue's bot-user handle.
func (q *Queue) Add(tracks []track.Track, offset ...int) {
	if len(tracks) == 0 {
		return
	}
	added := tracks

	if q.Current == nil {
		first := tracks[0]
		q.Current = &first
		added = tracks[1:]
		if len(added) == 0 {
			q.notify(q.changeType(tracks), tracks)
			return
		}
	}

	if len(offset) > 0 && offset[0] >= 0 && offset[0] <= len(q.upcoming) {
		pos := offset[0]
		merged := make([]track.Track, 0, len(q.upcoming)+len(added))
		merged = append(merged, q.upcoming[:pos]...)
		merged = append(merged, added...)
		merged = append(merged, q.upcoming[pos:]...)
		q.upcoming = merged
	} else {
		q.upcoming = append(q.upcoming, added...)
	}

	q.notify(q.changeType(tracks), tracks)
}

// changeType returns [ChangeAutoPlayAdd] if every track's requester matches
// the queue's bot-user handle, else [ChangeAdd].
func (q *Queue) changeType(tracks []track.Track) ChangeType {
	if q.botUserID == nil {
		return ChangeAdd
	}
	for _, t := range tracks {
		if t.Requester != q.botUserID {
			return ChangeAdd
		}
	}
	return ChangeAutoPlayAdd
}

// Remove deletes a single upcoming track at pos, or the half-open range
// [start,end) if end is given. Emits [ChangeRemove].
func (q *Queue) Remove(start int, end ...int) {
	stop := start + 1
	if len(end) > 0 {
		stop = end[0]
	}
	if start < 0 || start >= len(q.upcoming) || stop <= start {
		return
	}
	if stop > len(q.upcoming) {
		stop = len(q.upcoming)
	}
	removed := append([]track.Track{}, q.upcoming[start:stop]...)
	q.upcoming = append(q.upcoming[:start], q.upcoming[stop:]...)
	q.notify(ChangeRemove, removed)
}

// Clear empties the upcoming sequence, leaving Current untouched. Emits
// [ChangeClear].
func (q *Queue) Clear() {
	q.upcoming = nil
	q.notify(ChangeClear, nil)
}

// Shuffle performs an in-place Fisher-Yates shuffle of the upcoming
// sequence. Emits [ChangeShuffle].
func (q *Queue) Shuffle() {
	rand.Shuffle(len(q.upcoming), func(i, j int) {
		q.upcoming[i], q.upcoming[j] = q.upcoming[j], q.upcoming[i]
	})
	q.notify(ChangeShuffle, q.upcoming)
}

// UserBlockShuffle groups the upcoming sequence by requester (preserving
// each requester's internal order), then interleaves one full block per
// requester in round-robin order. Emits [ChangeUserBlock].
func (q *Queue) UserBlockShuffle() {
	blocks, order := groupByRequester(q.upcoming)
	q.upcoming = interleaveBlocks(blocks, order, false)
	q.notify(ChangeUserBlock, q.upcoming)
}

// RoundRobinShuffle groups the upcoming sequence by requester, shuffles
// within each group, then interleaves one track per requester in
// round-robin order. Emits [ChangeRoundRobin].
func (q *Queue) RoundRobinShuffle() {
	blocks, order := groupByRequester(q.upcoming)
	for _, key := range order {
		b := blocks[key]
		rand.Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })
		blocks[key] = b
	}
	q.upcoming = interleaveBlocks(blocks, order, true)
	q.notify(ChangeRoundRobin, q.upcoming)
}

// PushPrevious records t at the tail of the history ring, evicting the
// oldest entry if the ring is at capacity.
func (q *Queue) PushPrevious(t track.Track) {
	if q.maxPrevious <= 0 {
		return
	}
	q.previous = append(q.previous, t)
	if len(q.previous) > q.maxPrevious {
		q.previous = q.previous[len(q.previous)-q.maxPrevious:]
	}
}

// PopPrevious removes and returns the most recent history entry, or false
// if history is empty.
func (q *Queue) PopPrevious() (track.Track, bool) {
	if len(q.previous) == 0 {
		return track.Track{}, false
	}
	t := q.previous[len(q.previous)-1]
	q.previous = q.previous[:len(q.previous)-1]
	return t, true
}

// PushFrontUpcoming inserts t at the head of the upcoming sequence.
func (q *Queue) PushFrontUpcoming(t track.Track) {
	q.upcoming = append([]track.Track{t}, q.upcoming...)
}

// ShiftUpcoming removes and returns the first upcoming track, or false if
// the upcoming sequence is empty.
func (q *Queue) ShiftUpcoming() (track.Track, bool) {
	if len(q.upcoming) == 0 {
		return track.Track{}, false
	}
	t := q.upcoming[0]
	q.upcoming = q.upcoming[1:]
	return t, true
}

func (q *Queue) notify(ct ChangeType, tracks []track.Track) {
	if q.observer != nil {
		q.observer(ct, tracks)
	}
}

// requesterKey stably identifies a requester for grouping purposes.
type requesterKey struct{ v any }

func groupByRequester(tracks []track.Track) (map[requesterKey][]track.Track, []requesterKey) {
	blocks := make(map[requesterKey][]track.Track)
	var order []requesterKey
	for _, t := range tracks {
		k := requesterKey{t.Requester}
		if _, ok := blocks[k]; !ok {
			order = append(order, k)
		}
		blocks[k] = append(blocks[k], t)
	}
	return blocks, order
}

// interleaveBlocks walks order round-robin, taking one track at a time from
// each requester's block (perTrack=true) or the requester's whole remaining
// block in one go (perTrack=false), until every block is exhausted.
func interleaveBlocks(blocks map[requesterKey][]track.Track, order []requesterKey, perTrack bool) []track.Track {
	var out []track.Track
	remaining := true
	for remaining {
		remaining = false
		for _, key := range order {
			b := blocks[key]
			if len(b) == 0 {
				continue
			}
			if perTrack {
				out = append(out, b[0])
				blocks[key] = b[1:]
			} else {
				out = append(out, b...)
				blocks[key] = nil
			}
			if len(blocks[key]) > 0 {
				remaining = true
			}
		}
	}
	return out
}
