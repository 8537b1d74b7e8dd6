// Package ber scores a decoded collation against ground truth by bit-error
// rate.
package ber

import (
	"cmp"
	"math/big"
	"math/bits"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"

	"example.com/bergate/internal/collate"
	"example.com/bergate/internal/packet"
)

const (
	DefaultThreshold  = 1e-5
	DefaultConfidence = 0.95
)

// Options controls scoring. A Prefix of zero or less selects the default,
// the 8-byte synchronization marker; the marker bytes cannot be scored. PenalizeLengthMismatch counts truth bits past the
// end of a shorter decoded packet as errors; it is off by default to match
// historical scores.
type Options struct {
	Prefix                 int
	Threshold              float64
	PenalizeLengthMismatch bool
	Confidence             float64
}

func DefaultOptions() Options {
	return Options{
		Prefix:     packet.MarkerLen,
		Threshold:  DefaultThreshold,
		Confidence: DefaultConfidence,
	}
}

// PacketScore is the contribution of one truth packet.
type PacketScore struct {
	Counter    uint32 `json:"counter"`
	TruthLen   int    `json:"truth_len"`
	DecodedLen int    `json:"decoded_len"`
	ScoredBits int64  `json:"scored_bits"`
	ErrorBits  int64  `json:"error_bits"`
	Missing    bool   `json:"missing,omitempty"`
}

// Interval is a two-sided Clopper-Pearson confidence interval for the BER.
type Interval struct {
	Level float64 `json:"level"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

type Result struct {
	NumTruthPackets   int           `json:"num_truth_packets"`
	NumDecodedPackets int           `json:"num_decoded_packets"`
	NumUniqueCounters int           `json:"num_unique_packet_counters"`
	NumMatched        int           `json:"num_matched_packets"`
	NumMissing        int           `json:"num_missing_packets"`
	ErrorBits         int64         `json:"error_bits"`
	TotalScoredBits   int64         `json:"total_scored_bits"`
	BER               float64       `json:"ber"`
	Ratio             string        `json:"ber_exact"`
	Threshold         float64       `json:"ber_threshold"`
	Pass              bool          `json:"hurdle_pass"`
	Prefix            int           `json:"prefix"`
	PenalizeLength    bool          `json:"penalize_length_mismatch,omitempty"`
	Confidence        Interval      `json:"confidence"`
	Packets           []PacketScore `json:"packets,omitempty"`
}

// Score aligns truth and decoded by counter and counts differing bits past
// the prefix. A truth counter with no decoded packet scores every one of its
// bits as an error. Truth counters are visited in ascending order and
// neither collation is modified.
func Score(truth, decoded *collate.Collation, opts Options) Result {
	prefix := opts.Prefix
	if prefix <= 0 {
		prefix = packet.MarkerLen
	}
	res := Result{
		NumTruthPackets:   truth.Len(),
		NumUniqueCounters: decoded.Len(),
		Threshold:         opts.Threshold,
		Prefix:            prefix,
		PenalizeLength:    opts.PenalizeLengthMismatch,
	}
	if decoded != nil {
		res.NumDecodedPackets = decoded.Stats.Slices
	}

	for _, counter := range truth.Counters() {
		tb, _ := truth.Get(counter)
		ps := PacketScore{Counter: counter, TruthLen: len(tb)}
		scored := scoredRegion(tb, prefix)
		ps.ScoredBits = 8 * int64(len(scored))

		db, ok := decoded.Get(counter)
		if !ok {
			ps.Missing = true
			ps.ErrorBits = ps.ScoredBits
			res.NumMissing++
		} else {
			ps.DecodedLen = len(db)
			ps.ErrorBits = compare(scored, scoredRegion(db, prefix), opts.PenalizeLengthMismatch)
			res.NumMatched++
		}
		res.ErrorBits += ps.ErrorBits
		res.TotalScoredBits += ps.ScoredBits
		res.Packets = append(res.Packets, ps)
	}

	if res.TotalScoredBits > 0 {
		res.BER = float64(res.ErrorBits) / float64(res.TotalScoredBits)
		res.Ratio = big.NewRat(res.ErrorBits, res.TotalScoredBits).RatString()
	} else {
		res.Ratio = "0"
	}
	res.Pass = res.BER <= opts.Threshold
	res.Confidence = clopperPearson(res.ErrorBits, res.TotalScoredBits, opts.Confidence)
	return res
}

func scoredRegion(b []byte, prefix int) []byte {
	if len(b) <= prefix {
		return nil
	}
	return b[prefix:]
}

// compare counts differing bits over the common length of truth and
// decoded.
func compare(truth, decoded []byte, penalize bool) int64 {
	n := min(len(truth), len(decoded))
	var errs int64
	for i := 0; i < n; i++ {
		errs += int64(bits.OnesCount8(truth[i] ^ decoded[i]))
	}
	if penalize && len(truth) > n {
		errs += 8 * int64(len(truth)-n)
	}
	return errs
}

func clopperPearson(k, n int64, level float64) Interval {
	if level <= 0 || level >= 1 {
		level = DefaultConfidence
	}
	iv := Interval{Level: level, Lower: 0, Upper: 1}
	if n <= 0 {
		return iv
	}
	alpha := 1 - level
	if k > 0 {
		iv.Lower = distuv.Beta{Alpha: float64(k), Beta: float64(n - k + 1)}.Quantile(alpha / 2)
	}
	if k < n {
		iv.Upper = distuv.Beta{Alpha: float64(k + 1), Beta: float64(n - k)}.Quantile(1 - alpha/2)
	}
	return iv
}

// Worst returns up to n packet scores with the most error bits, ties broken
// by ascending counter. Packets without errors are omitted.
func (r Result) Worst(n int) []PacketScore {
	var out []PacketScore
	for _, ps := range r.Packets {
		if ps.ErrorBits > 0 {
			out = append(out, ps)
		}
	}
	slices.SortFunc(out, func(a, b PacketScore) int {
		if c := cmp.Compare(b.ErrorBits, a.ErrorBits); c != 0 {
			return c
		}
		return cmp.Compare(a.Counter, b.Counter)
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
