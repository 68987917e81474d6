// Package vote implements the structured vote-block parser and the
// final-round vote aggregator (C10): extracting a participant's
// VOTE:/CONFIDENCE:/RATIONALE: block (or the equivalent fenced JSON
// form) from free-form response text, and folding a round's votes into
// a winning option and a deterministic textual summary.
package vote

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ai-counsel/counsel/pkg/types"
)

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

type jsonVote struct {
	Vote       string   `json:"vote"`
	Confidence *float64 `json:"confidence"`
	Rationale  string   `json:"rationale"`
}

// Parse scans text for the last well-formed vote block — either a
// VOTE:/CONFIDENCE:/RATIONALE: line triple or a fenced-JSON vote
// object — and returns it. When both forms are present, whichever
// ends later in the text wins. Confidence is clamped to [0,1]. Returns
// (nil, false) if no well-formed block was found — malformed blocks
// are silently rejected per spec, never surfaced as an error.
func Parse(text string) (*types.Vote, bool) {
	lineVote, lineEnd := parseLineBlocks(text)
	jsonVote, jsonEnd := parseFencedJSON(text)

	switch {
	case lineVote == nil && jsonVote == nil:
		return nil, false
	case lineVote == nil:
		return jsonVote, true
	case jsonVote == nil:
		return lineVote, true
	case jsonEnd >= lineEnd:
		return jsonVote, true
	default:
		return lineVote, true
	}
}

// parseLineBlocks scans text for VOTE:/CONFIDENCE:/RATIONALE: triples,
// keeping the last complete one seen (rationale runs until the next
// recognised prefix or end of text), along with the byte offset its
// last matched line ended at.
func parseLineBlocks(text string) (*types.Vote, int) {
	lines := strings.Split(text, "\n")

	var (
		cur          types.Vote
		haveOption   bool
		haveConf     bool
		inRationale  bool
		rationaleBuf []string
		best         *types.Vote
		bestEnd      int
		blockEnd     int
	)

	offset := 0
	flush := func(end int) {
		if haveOption && haveConf {
			v := cur
			v.Rationale = strings.TrimSpace(strings.Join(rationaleBuf, "\n"))
			best = &v
			bestEnd = end
		}
	}

	for _, raw := range lines {
		lineEnd := offset + len(raw)
		offset = lineEnd + 1 // account for the stripped "\n"

		line := strings.TrimSpace(raw)
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "VOTE:"):
			flush(blockEnd)
			cur = types.Vote{}
			rationaleBuf = nil
			inRationale = false
			haveConf = false
			option := strings.TrimSpace(line[len("VOTE:"):])
			haveOption = option != ""
			cur.Option = option
			blockEnd = lineEnd

		case strings.HasPrefix(upper, "CONFIDENCE:"):
			confStr := strings.TrimSpace(line[len("CONFIDENCE:"):])
			f, err := strconv.ParseFloat(confStr, 64)
			if err != nil {
				haveConf = false
				continue
			}
			cur.Confidence = types.Clamp01(f)
			haveConf = true
			inRationale = false
			blockEnd = lineEnd

		case strings.HasPrefix(upper, "RATIONALE:"):
			inRationale = true
			blockEnd = lineEnd
			rest := strings.TrimSpace(line[len("RATIONALE:"):])
			if rest != "" {
				rationaleBuf = append(rationaleBuf, rest)
			}

		case inRationale && line != "":
			rationaleBuf = append(rationaleBuf, line)

		default:
			// blank line or unrecognised content outside a block: no-op
		}
	}
	flush(blockEnd)

	return best, bestEnd
}

// parseFencedJSON scans text for ```json ... ``` (or bare ``` ... ```)
// blocks decoding to {"vote","confidence","rationale"}, keeping the
// last well-formed one along with the byte offset it ends at.
func parseFencedJSON(text string) (*types.Vote, int) {
	matches := fencedJSONRe.FindAllStringSubmatchIndex(text, -1)

	var best *types.Vote
	var bestEnd int
	for _, m := range matches {
		raw := text[m[2]:m[3]]
		var jv jsonVote
		if err := json.Unmarshal([]byte(raw), &jv); err != nil {
			continue
		}
		if jv.Vote == "" || jv.Confidence == nil {
			continue
		}
		best = &types.Vote{
			Option:     jv.Vote,
			Confidence: types.Clamp01(*jv.Confidence),
			Rationale:  strings.TrimSpace(jv.Rationale),
		}
		bestEnd = m[1]
	}
	return best, bestEnd
}

// Aggregate folds the final round's RoundResponses into a VotingResult.
// Winner is the option with the highest confidence-weighted sum; ties
// are broken first by highest raw vote count, then by most recent
// vote timestamp. Returns nil if no participant cast a vote.
func Aggregate(finalRound []types.RoundResponse) *types.VotingResult {
	tally := map[string]float64{}
	rawCounts := map[string]int{}
	latest := map[string]time.Time{}

	any := false
	for _, r := range finalRound {
		if r.Vote == nil {
			continue
		}
		any = true
		tally[r.Vote.Option] += r.Vote.Confidence
		rawCounts[r.Vote.Option]++
		if t, ok := latest[r.Vote.Option]; !ok || r.Timestamp.After(t) {
			latest[r.Vote.Option] = r.Timestamp
		}
	}
	if !any {
		return nil
	}

	options := make([]string, 0, len(tally))
	for opt := range tally {
		options = append(options, opt)
	}
	sort.Slice(options, func(i, j int) bool {
		a, b := options[i], options[j]
		if tally[a] != tally[b] {
			return tally[a] > tally[b]
		}
		if rawCounts[a] != rawCounts[b] {
			return rawCounts[a] > rawCounts[b]
		}
		return latest[a].After(latest[b])
	})

	winner := options[0]
	unanimous := len(tally) == 1

	return &types.VotingResult{
		Winner:    winner,
		Tally:     tally,
		RawCounts: rawCounts,
		Unanimous: unanimous,
	}
}

// Summarize produces a deterministic Summary from the full transcript
// and the aggregated voting result. It does not call out to a model:
// agreements/disagreements are derived from which options drew votes,
// and the final recommendation is the winning option.
func Summarize(transcript []types.RoundResponse, result *types.VotingResult) *types.Summary {
	if result == nil {
		return &types.Summary{
			Consensus:           "no consensus reached: no participant cast a well-formed vote",
			FinalRecommendation: "insufficient structured input to recommend an option",
		}
	}

	winnerRationales := make([]string, 0)
	dissentRationales := make([]string, 0)
	for _, r := range transcript {
		if r.Vote == nil {
			continue
		}
		if r.Vote.Option == result.Winner {
			if r.Vote.Rationale != "" {
				winnerRationales = append(winnerRationales, r.Vote.Rationale)
			}
		} else if r.Vote.Rationale != "" {
			dissentRationales = append(dissentRationales, r.Vote.Rationale)
		}
	}

	consensus := "participants converged on \"" + result.Winner + "\""
	if result.Unanimous {
		consensus = "participants unanimously favored \"" + result.Winner + "\""
	}

	return &types.Summary{
		Consensus:           consensus,
		KeyAgreements:       winnerRationales,
		KeyDisagreements:    dissentRationales,
		FinalRecommendation: result.Winner,
	}
}
