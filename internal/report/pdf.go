package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/bergate/internal/collate"
)

// MaxPacketRows caps the per-packet error table.
const MaxPacketRows = 40

type pdfDoc struct {
	pdf *gofpdf.Fpdf
	tr  Translator
	enc func(string) string
}

func (d pdfDoc) t(key string) string {
	return d.enc(d.tr.T(key))
}

// SavePDF renders res into a PDF document in the requested language.
func SavePDF(res Result, out string, lang Language) error {
	digest, err := Digest(res)
	if err != nil {
		return fmt.Errorf("digest: %w", err)
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	doc := pdfDoc{pdf: pdf, tr: NewTranslator(lang), enc: func(s string) string { return s }}
	if doc.tr.Lang() == LangTurkish {
		doc.enc = pdf.UnicodeTranslatorFromDescriptor("cp1254")
	} else {
		doc.enc = pdf.UnicodeTranslatorFromDescriptor("")
	}

	title := doc.t("title")
	pdf.SetTitle(title, false)
	pdf.SetAuthor("bergate", false)
	pdf.SetCreator("bergate", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, title)
	addVerdictBanner(doc, res.Pass)
	addSummarySection(doc, res)
	addRecoverySection(doc, res.TruthStats, res.DecodedStats)
	addPacketSection(doc, res)
	if err := addDigestSection(doc, res.RunID, digest); err != nil {
		return err
	}

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addVerdictBanner(doc pdfDoc, pass bool) {
	pdf := doc.pdf
	if pass {
		pdf.SetFillColor(212, 237, 218)
	} else {
		pdf.SetFillColor(248, 215, 218)
	}
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, doc.t("verdict")+": "+passLabel(doc, pass), "1", 1, "C", true, 0, "")
	pdf.Ln(4)
}

func addSummarySection(doc pdfDoc, res Result) {
	pdf := doc.pdf
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, doc.t("summary"))
	pdf.Ln(8)

	penalty := doc.t("off")
	if res.PenalizeLength {
		penalty = doc.t("on")
	}
	created := "-"
	if !res.CreatedAt.IsZero() {
		created = res.CreatedAt.Format(time.RFC3339)
	}
	items := []struct {
		label string
		value string
	}{
		{label: doc.t("team"), value: emptyFallback(doc.enc(res.TeamName), "-")},
		{label: doc.t("run_id"), value: emptyFallback(res.RunID, "-")},
		{label: doc.t("created"), value: created},
		{label: doc.t("truth_packets"), value: strconv.Itoa(res.NumTruthPackets)},
		{label: doc.t("decoded_packets"), value: strconv.Itoa(res.NumDecodedPackets)},
		{label: doc.t("unique_counters"), value: strconv.Itoa(res.NumUniqueCounters)},
		{label: doc.t("missing_packets"), value: strconv.Itoa(res.NumMissing)},
		{label: doc.t("error_bits"), value: strconv.FormatInt(res.ErrorBits, 10)},
		{label: doc.t("scored_bits"), value: strconv.FormatInt(res.TotalScoredBits, 10)},
		{label: doc.t("ber"), value: strconv.FormatFloat(res.BER, 'g', 6, 64)},
		{label: doc.t("ber_exact"), value: emptyFallback(res.Ratio, "-")},
		{label: doc.t("threshold"), value: strconv.FormatFloat(res.Threshold, 'g', 6, 64)},
		{label: doc.enc(doc.tr.Format("confidence", res.Confidence.Level*100)), value: fmt.Sprintf("[%.3g, %.3g]", res.Confidence.Lower, res.Confidence.Upper)},
		{label: doc.t("length_penalty"), value: penalty},
	}
	pdf.SetFont("Helvetica", "", 11)
	for _, item := range items {
		pdf.CellFormat(70, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addRecoverySection(doc pdfDoc, truth, decoded collate.Stats) {
	pdf := doc.pdf
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, doc.t("recovery"))
	pdf.Ln(9)

	headers := []string{doc.t("stream"), doc.t("slices"), doc.t("recovered"), doc.t("crc_matched"), doc.t("voted"), doc.t("failed"), doc.t("duplicates")}
	widths := []float64{30, 25, 25, 25, 25, 25, 25}
	tableHeader(pdf, headers, widths)

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range []struct {
		name  string
		stats collate.Stats
	}{{doc.t("truth"), truth}, {doc.t("decoded"), decoded}} {
		s := row.stats
		renderTableRow(pdf, widths, []string{
			row.name,
			strconv.Itoa(s.Slices),
			strconv.Itoa(s.Recovered),
			strconv.Itoa(s.CRCMatched),
			strconv.Itoa(s.Voted),
			strconv.Itoa(s.Failed),
			strconv.Itoa(s.Duplicates),
		}, 5)
	}
	pdf.Ln(4)
}

func addPacketSection(doc pdfDoc, res Result) {
	pdf := doc.pdf
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, doc.t("worst_packets"))
	pdf.Ln(9)

	all := res.Worst(-1)
	if len(all) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, doc.t("no_errors"), "", "L", false)
		pdf.Ln(2)
		return
	}
	rows := all
	if len(rows) > MaxPacketRows {
		rows = rows[:MaxPacketRows]
	}
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5, doc.enc(doc.tr.Format("worst_note", len(rows), len(all))), "", "L", false)
	pdf.Ln(1)

	headers := []string{doc.t("counter"), doc.t("truth_len"), doc.t("decoded_len"), doc.t("scored"), doc.t("errors"), doc.t("ber")}
	widths := []float64{30, 28, 30, 32, 30, 30}
	tableHeader(pdf, headers, widths)
	pdf.SetFont("Helvetica", "", 9)
	for _, ps := range rows {
		decodedLen := strconv.Itoa(ps.DecodedLen)
		if ps.Missing {
			decodedLen = doc.t("missing")
		}
		rate := "-"
		if ps.ScoredBits > 0 {
			rate = strconv.FormatFloat(float64(ps.ErrorBits)/float64(ps.ScoredBits), 'g', 4, 64)
		}
		renderTableRow(pdf, widths, []string{
			strconv.FormatUint(uint64(ps.Counter), 10),
			strconv.Itoa(ps.TruthLen),
			decodedLen,
			strconv.FormatInt(ps.ScoredBits, 10),
			strconv.FormatInt(ps.ErrorBits, 10),
			rate,
		}, 5)
	}
	pdf.Ln(4)
}

func addDigestSection(doc pdfDoc, runID, digest string) error {
	pdf := doc.pdf
	png, err := DigestToQR(runID, digest, 256)
	if err != nil {
		return fmt.Errorf("qr: %w", err)
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, doc.t("digest"))
	pdf.Ln(9)

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("digest-qr", opts, bytes.NewReader(png))
	x, y := pdf.GetXY()
	pdf.ImageOptions("digest-qr", x, y, 35, 35, false, opts, 0, "")
	pdf.SetXY(x+40, y+12)
	pdf.SetFont("Courier", "", 8)
	pdf.MultiCell(0, 4, digest, "", "L", false)
	pdf.SetXY(x, y+38)
	return nil
}

func tableHeader(pdf *gofpdf.Fpdf, headers []string, widths []float64) {
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func passLabel(doc pdfDoc, pass bool) string {
	if pass {
		return doc.t("pass")
	}
	return doc.t("fail")
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
