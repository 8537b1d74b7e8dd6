package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"example.com/bergate/internal/ber"
	"example.com/bergate/internal/collate"
	"example.com/bergate/internal/common"
	"example.com/bergate/internal/gen"
	"example.com/bergate/internal/manifest"
	"example.com/bergate/internal/packet"
	"example.com/bergate/internal/report"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			usage(os.Stderr)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run(args []string, w io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "generate":
		return generateCmd(rest, w)
	case "score":
		return scoreCmd(rest, w)
	case "report":
		return reportCmd(rest, w)
	case "unframe":
		return unframeCmd(rest, w)
	case "inspect":
		return inspectCmd(rest, w)
	case "manifest":
		return manifestCmd(rest, w)
	case "version":
		fmt.Fprintf(w, "bergate %s (built %s)\n", version, buildDate)
		return nil
	case "help", "-h", "--help":
		usage(w)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `bergate %s (built %s) <command> [options]

Commands:
  generate  --num-bits <n> --seed <n> [--min-padding <n>] [--max-padding <n>] --truth-name <file> --out-name <file>
  score     --truth-name <file> --decoded-name <file> --results-name <results.json> [--team-name <name>] [--ber-threshold <x>] [--pdf <file>] [--diag-out <file>]
  report    --results <results.json> --pdf <report.pdf> [--lang en|tr]
  unframe   --in <frames.bin> --out <packets.bin>
  inspect   --in <stream.bin> [--failures-only] [--json]
  manifest  --inputs <comma-separated> --out <manifest.json> | --verify <manifest.json>
  version
`, version, buildDate)
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

// markerFlags registers the framing marker overrides shared by commands
// that scan streams.
func markerFlags(fs *pflag.FlagSet) func() packet.Marker {
	preamble := fs.Uint32("preamble", packet.DefaultMarker.Preamble, "preamble word of the framing marker")
	sync := fs.Uint32("sync", packet.DefaultMarker.Sync, "sync word of the framing marker")
	return func() packet.Marker {
		return packet.Marker{Preamble: *preamble, Sync: *sync}
	}
}

func logFlags(fs *pflag.FlagSet) *common.LogConfig {
	cfg := &common.LogConfig{}
	fs.StringVar(&cfg.Level, "log-level", "warning", "log level (debug, info, warning, error)")
	fs.StringVar(&cfg.Format, "log-format", "text", "log format (text or json)")
	fs.StringVar(&cfg.Directory, "log-dir", "", "also write rotated logs into this directory")
	return cfg
}

func generateCmd(args []string, w io.Writer) error {
	fs := newFlagSet("generate")
	numBits := fs.Float64("num-bits", float64(gen.DefaultMinBits), "minimum number of scorable bits to generate")
	seed := fs.Int64("seed", 0, "random seed")
	minPadding := fs.Uint32("min-padding", gen.DefaultMinSpacing, "minimum spacing between packets, in complex samples")
	maxPadding := fs.Uint32("max-padding", gen.DefaultMaxSpacing, "maximum spacing between packets, in complex samples")
	minPayload := fs.Int("min-payload", packet.MinPayloadLen, "minimum payload length in bytes")
	maxPayload := fs.Int("max-payload", packet.MaxPayloadLen, "maximum payload length in bytes")
	truthName := fs.String("truth-name", "truth_packets.bin", "path to store true values of generated packets")
	outName := fs.String("out-name", "out_packets.bin", "path to store generated packets including frame headers (empty to skip)")
	marker := markerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := gen.DefaultOptions()
	opts.MinTotalBits = int64(*numBits)
	opts.Seed = *seed
	opts.Marker = marker()
	opts.MinSpacing = *minPadding
	opts.MaxSpacing = *maxPadding
	opts.MinPayload = *minPayload
	opts.MaxPayload = *maxPayload
	pkts, err := gen.Generate(opts)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if err := gen.WriteFiles(pkts, *truthName, *outName); err != nil {
		return err
	}
	fmt.Fprintf(w, "Generated %d packets, %d payload bits\n", len(pkts), gen.PayloadBits(pkts))
	fmt.Fprintln(w, "Truth:", *truthName)
	if *outName != "" {
		fmt.Fprintln(w, "Frames:", *outName)
	}
	return nil
}

func scoreCmd(args []string, w io.Writer) error {
	fs := newFlagSet("score")
	decodedName := fs.String("decoded-name", "decoded.bin", "path to find decoded packets")
	truthName := fs.String("truth-name", "truth_packets.bin", "path to find true values of generated packets")
	resultsName := fs.String("results-name", "results.json", "path to store results file")
	teamName := fs.String("team-name", "team-name", "name of the team that submitted the solution")
	threshold := fs.Float64("ber-threshold", ber.DefaultThreshold, "maximum bit error rate required to pass")
	penalize := fs.Bool("penalize-length", false, "count truth bits missing from short decoded packets as errors")
	prefix := fs.Int("prefix", packet.MarkerLen, "leading bytes of every packet excluded from scoring (1 to 32)")
	confidence := fs.Float64("confidence", ber.DefaultConfidence, "confidence level of the reported BER interval")
	diagOut := fs.String("diag-out", "", "write per-slice recovery diagnostics (JSONL, .gz/.zst compressed by suffix)")
	pdfPath := fs.String("pdf", "", "also render a PDF report")
	lang := fs.String("lang", "en", "PDF report language (en, tr)")
	metricsFlag := fs.Bool("metrics", false, "print recovery throughput metrics")
	progressFlag := fs.Bool("progress", false, "display progress while collating the decoded stream")
	marker := markerFlags(fs)
	logCfg := logFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *prefix < 1 || *prefix > packet.HeaderLen {
		return fmt.Errorf("prefix: %d outside [1, %d]", *prefix, packet.HeaderLen)
	}
	if err := common.SetupLogging(*logCfg); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer common.CloseLogging()
	reportLang, err := report.ParseLanguage(*lang)
	if err != nil {
		return fmt.Errorf("lang: %w", err)
	}

	truthBuf, err := common.ReadInput(*truthName)
	if err != nil {
		return fmt.Errorf("read truth: %w", err)
	}
	decodedBuf, err := common.ReadInput(*decodedName)
	if err != nil {
		return fmt.Errorf("read decoded: %w", err)
	}

	var dl *common.DiagLog
	if *diagOut != "" {
		if dl, err = common.OpenDiagLog(*diagOut); err != nil {
			return fmt.Errorf("diagnostics: %w", err)
		}
		defer dl.Close()
	}
	var metrics *common.Metrics
	if *metricsFlag || *progressFlag {
		metrics = common.NewMetrics()
		metrics.SetTotalBytes(int64(len(decodedBuf)))
		metrics.Start()
	}
	var stopProgress func()
	if metrics != nil && *progressFlag {
		stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}

	m := marker()
	truth := collate.FromBuffer(truthBuf, m, collate.WithDiagLog(dl, "truth"), collate.WithoutDiagnostics())
	decoded := collate.FromBuffer(decodedBuf, m, collate.WithDiagLog(dl, "decoded"), collate.WithMetrics(metrics), collate.WithoutDiagnostics())
	if stopProgress != nil {
		stopProgress()
	}
	if metrics != nil {
		metrics.Stop()
	}

	score := ber.Score(truth, decoded, ber.Options{
		Prefix:                 *prefix,
		Threshold:              *threshold,
		PenalizeLengthMismatch: *penalize,
		Confidence:             *confidence,
	})
	res := report.NewResult(*teamName, score, truth, decoded)
	res.TruthFile = *truthName
	res.DecodedFile = *decodedName
	if err := report.SaveJSON(res, *resultsName); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	if *pdfPath != "" {
		if err := report.SavePDF(res, *pdfPath, reportLang); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
	}
	if dl != nil {
		if err := dl.Close(); err != nil {
			return fmt.Errorf("diagnostics: %w", err)
		}
	}

	fmt.Fprintf(w, "PASS=%v, ber=%.6g (%s), errors=%d, scored=%d, truth=%d, decoded=%d, missing=%d\n",
		res.Pass, res.BER, res.Ratio, res.ErrorBits, res.TotalScoredBits,
		res.NumTruthPackets, res.NumDecodedPackets, res.NumMissing)
	fmt.Fprintf(w, "Confidence %.0f%%: [%.3g, %.3g]\n", res.Confidence.Level*100, res.Confidence.Lower, res.Confidence.Upper)
	fmt.Fprintln(w, "Results:", *resultsName)
	if metrics != nil && *metricsFlag {
		snap := metrics.Snapshot()
		mbPerSec := snap.ThroughputBytesPerSecond() / 1_000_000
		fmt.Fprintf(w, "Metrics: duration=%s slices=%d crc=%d voted=%d failed=%d duplicates=%d processed=%s throughput=%.2f MB/s\n",
			snap.Duration.Round(10*time.Millisecond),
			snap.Slices,
			snap.CRC,
			snap.Voted,
			snap.Failed,
			snap.Duplicates,
			common.FormatBytes(snap.Bytes),
			mbPerSec,
		)
	}
	return nil
}

func reportCmd(args []string, w io.Writer) error {
	fs := newFlagSet("report")
	resultsPath := fs.String("results", "results.json", "results file written by score")
	pdfPath := fs.String("pdf", "report.pdf", "output PDF report")
	lang := fs.String("lang", "en", "report language (en, tr)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	reportLang, err := report.ParseLanguage(*lang)
	if err != nil {
		return fmt.Errorf("lang: %w", err)
	}
	res, err := report.LoadJSON(*resultsPath)
	if err != nil {
		return fmt.Errorf("load results: %w", err)
	}
	if err := report.SavePDF(res, *pdfPath, reportLang); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	fmt.Fprintln(w, "Wrote PDF:", *pdfPath)
	return nil
}

func unframeCmd(args []string, w io.Writer) error {
	fs := newFlagSet("unframe")
	in := fs.String("in", "out_packets.bin", "frame file written by generate")
	out := fs.String("out", "packets.bin", "output packet stream")
	if err := fs.Parse(args); err != nil {
		return err
	}
	buf, err := common.ReadInput(*in)
	if err != nil {
		return fmt.Errorf("read frames: %w", err)
	}
	frames, err := packet.ParseFrames(buf)
	if err != nil {
		return fmt.Errorf("parse frames: %w", err)
	}
	var stream []byte
	var spacing uint64
	for _, f := range frames {
		stream = append(stream, f.Packet...)
		spacing += uint64(f.Spacing)
	}
	if err := common.WriteOutput(*out, stream); err != nil {
		return fmt.Errorf("write packets: %w", err)
	}
	fmt.Fprintf(w, "Unframed %d packets (%d bytes, %d spacing samples) into %s\n", len(frames), len(stream), spacing, *out)
	return nil
}

func inspectCmd(args []string, w io.Writer) error {
	fs := newFlagSet("inspect")
	in := fs.String("in", "decoded.bin", "packet stream to inspect")
	failuresOnly := fs.Bool("failures-only", false, "list only slices that failed recovery")
	asJSON := fs.Bool("json", false, "emit JSON lines instead of a table")
	marker := markerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	buf, err := common.ReadInput(*in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	c := collate.FromBuffer(buf, marker())

	if *asJSON {
		nd := json.NewEncoder(w)
		for _, d := range c.Diagnostics {
			if *failuresOnly && d.Err == nil {
				continue
			}
			if err := nd.Encode(d.Entry("")); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SLICE\tOFFSET\tLEN\tMETHOD\tCOUNTER\tLENGTH\tNOTE")
	for _, d := range c.Diagnostics {
		if *failuresOnly && d.Err == nil {
			continue
		}
		e := d.Entry("")
		note := e.Error
		if e.Duplicate {
			note = "duplicate"
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%d\t%d\t%s\n", e.Slice, e.Offset, e.SliceLen, e.Method, e.Counter, e.Length, note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	st := c.Stats
	fmt.Fprintf(w, "slices=%d recovered=%d crc=%d voted=%d failed=%d duplicates=%d counters=%d\n",
		st.Slices, st.Recovered, st.CRCMatched, st.Voted, st.Failed, st.Duplicates, c.Len())
	return nil
}

func manifestCmd(args []string, w io.Writer) error {
	fs := newFlagSet("manifest")
	inputs := fs.String("inputs", "", "comma-separated paths")
	out := fs.String("out", "manifest.json", "output json")
	runID := fs.String("run-id", "", "run identifier (defaults to a new UUID)")
	verify := fs.String("verify", "", "rehash the items of an existing manifest")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *verify != "" {
		m, err := manifest.Load(*verify)
		if err != nil {
			return fmt.Errorf("load manifest: %w", err)
		}
		changed, err := manifest.Verify(m)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		if len(changed) > 0 {
			return fmt.Errorf("verify: %d item(s) changed: %s", len(changed), strings.Join(changed, ", "))
		}
		fmt.Fprintf(w, "Manifest OK: %d items\n", len(m.Items))
		return nil
	}

	var paths []string
	for _, p := range strings.Split(*inputs, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		return errors.New("manifest: required: --inputs")
	}
	m, err := manifest.BuildPaths(*runID, paths)
	if err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}
	if err := manifest.Save(m, *out); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	fmt.Fprintf(w, "Wrote manifest %s (run %s, %d items)\n", *out, m.RunID, len(m.Items))
	return nil
}
