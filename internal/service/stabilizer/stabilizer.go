// Package stabilizer turns repeatedly-recomputed candidate transcripts into a
// stable committed prefix and a volatile live suffix.
//
// A window-recompute engine produces transcripts whose tail is unreliable but
// whose prefix, once repeatedly confirmed, is trustworthy. The stabilizer
// counts consecutive ticks where the live suffix only grew (never revised
// retroactively) and promotes it to committed text once the streak reaches a
// threshold, on a voice-activity boundary, or word-by-word inside a long
// utterance. Committed text is never retracted or edited.
package stabilizer

import (
	"strings"

	"realtime-caption-service/internal/service/segment"
)

// State is the externally visible transcript state.
type State struct {
	Committed    string
	LiveSuffix   string
	StableStreak int
}

// Result describes the outcome of feeding one candidate transcript.
type Result struct {
	State State
	// Promoted is the segment finalized by this feed, if any. Trigger is
	// "streak" for a whole-suffix promotion and "word" for a word-boundary
	// prefix commit.
	Promoted *segment.Segment
	Trigger  string
	// SuffixChanged reports that the live suffix changed textually without a
	// promotion; the caller should emit an advisory partial event.
	SuffixChanged bool
}

// Stabilizer owns the transcript state for one session. Not safe for
// concurrent use; the pipeline tick loop is its only caller.
type Stabilizer struct {
	threshold int
	sessionID string
	gen       *segment.Generator

	committed  string
	liveSuffix string
	streak     int

	// Word-boundary commit tracking: the stable whitespace-terminated prefix
	// of the live suffix and how many ticks it has survived unchanged.
	wordCand   string
	wordStreak int
}

// New creates a stabilizer with promotion threshold k.
func New(k int, sessionID string, gen *segment.Generator) *Stabilizer {
	return &Stabilizer{
		threshold: k,
		sessionID: sessionID,
		gen:       gen,
	}
}

// State returns a copy of the current transcript state.
func (s *Stabilizer) State() State {
	return State{
		Committed:    s.committed,
		LiveSuffix:   s.liveSuffix,
		StableStreak: s.streak,
	}
}

// Feed consumes the candidate transcript for one tick and advances the state.
func (s *Stabilizer) Feed(candidate string, tick uint64) Result {
	// Strip the committed prefix if the window still contains it. If it does
	// not (the window slid past the committed text), the whole candidate is
	// the new live region; committed text is immutable either way.
	delta := candidate
	if s.committed != "" && strings.HasPrefix(candidate, s.committed) {
		delta = candidate[len(s.committed):]
	}

	prev := s.liveSuffix
	lcp := commonPrefixLen(delta, prev)

	// The streak counts ticks where a non-empty previous suffix was only
	// extended, never revised.
	if prev != "" && lcp == len(prev) {
		s.streak++
	} else {
		s.streak = 0
	}

	changed := delta != prev
	s.liveSuffix = delta

	// Promotion (a): the whole suffix has been extension-stable long enough.
	if s.streak >= s.threshold && strings.TrimSpace(s.liveSuffix) != "" {
		seg := s.promoteAll(tick)
		return Result{State: s.State(), Promoted: seg, Trigger: "streak"}
	}

	// Promotion (c): inside a long utterance whose tail keeps being revised,
	// commit the whitespace-terminated prefix that stayed stable for the
	// threshold instead of waiting for silence.
	if wp := wordStablePrefix(delta, lcp); wp != "" {
		if wp == s.wordCand {
			s.wordStreak++
		} else {
			s.wordCand = wp
			s.wordStreak = 1
		}
		if s.wordStreak >= s.threshold && strings.TrimSpace(wp) != "" {
			seg := s.promotePrefix(wp, tick)
			return Result{State: s.State(), Promoted: seg, Trigger: "word"}
		}
	} else {
		s.wordCand = ""
		s.wordStreak = 0
	}

	return Result{State: s.State(), SuffixChanged: changed}
}

// ForceBoundary promotes the current live suffix unconditionally. Called when
// the voice activity gate detects an utterance boundary. Returns false when
// there is nothing to promote.
func (s *Stabilizer) ForceBoundary(tick uint64) (*segment.Segment, bool) {
	if strings.TrimSpace(s.liveSuffix) == "" {
		return nil, false
	}
	seg := s.promoteAll(tick)
	return seg, true
}

func (s *Stabilizer) promoteAll(tick uint64) *segment.Segment {
	seg := &segment.Segment{
		ID:              s.gen.Next(s.sessionID),
		Text:            strings.TrimSpace(s.liveSuffix),
		FinalizedAtTick: tick,
	}
	s.committed += s.liveSuffix
	s.liveSuffix = ""
	s.streak = 0
	s.wordCand = ""
	s.wordStreak = 0
	return seg
}

func (s *Stabilizer) promotePrefix(prefix string, tick uint64) *segment.Segment {
	seg := &segment.Segment{
		ID:              s.gen.Next(s.sessionID),
		Text:            strings.TrimSpace(prefix),
		FinalizedAtTick: tick,
	}
	s.committed += prefix
	s.liveSuffix = s.liveSuffix[len(prefix):]
	s.wordCand = ""
	s.wordStreak = 0
	return seg
}

// wordStablePrefix returns the portion of delta that both survived from the
// previous suffix (the first lcp bytes) and ends on a whitespace boundary.
// The trailing whitespace is kept so committed+liveSuffix stays an exact
// reconstruction of the candidate.
func wordStablePrefix(delta string, lcp int) string {
	stable := delta[:lcp]
	idx := strings.LastIndexByte(stable, ' ')
	if idx < 0 {
		return ""
	}
	return stable[:idx+1]
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
