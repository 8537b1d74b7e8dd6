package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"example.com/bergate/internal/ber"
	"example.com/bergate/internal/collate"
	"example.com/bergate/internal/common"
	"example.com/bergate/internal/manifest"
	"example.com/bergate/internal/report"
)

const (
	resultFile      = "result.json"
	pdfFile         = "result.pdf"
	diagnosticsFile = "diagnostics.jsonl.zst"
	manifestFile    = "manifest.json"
)

// Server scores uploaded streams and keeps every run's artifacts under the
// storage directory.
type Server struct {
	opts       Options
	log        logrus.FieldLogger
	results    *ResultStore
	resultsDir string
	workDir    string
	uploadsDir string
	registry   *prometheus.Registry
	metrics    *serverMetrics
}

// Run is the stored summary of one scoring run.
type Run struct {
	ID        string    `json:"id"`
	Team      string    `json:"team,omitempty"`
	BER       float64   `json:"ber"`
	Pass      bool      `json:"pass"`
	CreatedAt time.Time `json:"createdAt"`
	Dir       string    `json:"-"`
}

// ArtifactRef is the public representation of a run artifact returned in
// API responses.
type ArtifactRef struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// ResultStore indexes the runs scored by this process.
type ResultStore struct {
	mu   sync.RWMutex
	runs map[string]Run
}

func (rs *ResultStore) put(run Run) {
	rs.mu.Lock()
	rs.runs[run.ID] = run
	rs.mu.Unlock()
}

func (rs *ResultStore) get(id string) (Run, bool) {
	rs.mu.RLock()
	run, ok := rs.runs[id]
	rs.mu.RUnlock()
	return run, ok
}

// Len returns the number of indexed runs.
func (rs *ResultStore) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.runs)
}

// List returns the indexed runs, newest first.
func (rs *ResultStore) List() []Run {
	rs.mu.RLock()
	out := make([]Run, 0, len(rs.runs))
	for _, run := range rs.runs {
		out = append(out, run)
	}
	rs.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// NewServer prepares the storage layout and a private upload workspace.
func NewServer(opts Options) (*Server, error) {
	opts.applyDefaults()
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	resultsDir := filepath.Join(storageDir, "results")
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "bergated-")
	if err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = common.Log()
	}
	s := &Server{
		opts:       opts,
		log:        logger,
		results:    &ResultStore{runs: make(map[string]Run)},
		resultsDir: resultsDir,
		workDir:    workDir,
		uploadsDir: uploadsDir,
		registry:   opts.Registry,
		metrics:    newServerMetrics(opts.Registry),
	}
	return s, nil
}

// Close removes the upload workspace. Stored results are kept.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

// Results exposes the run index.
func (s *Server) Results() *ResultStore {
	return s.results
}

type scoreResponse struct {
	Result    report.Result `json:"result"`
	Artifacts []ArtifactRef `json:"artifacts"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	defer func() {
		s.metrics.duration.WithLabelValues("score").Observe(time.Since(start).Seconds())
	}()
	fail := func(status int, format string, args ...any) {
		s.metrics.requestFails.WithLabelValues("score").Inc()
		http.Error(w, fmt.Sprintf(format, args...), status)
	}

	if status, err := s.parseUpload(w, r); err != nil {
		fail(status, "parse multipart: %v", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	opts := s.opts.Score
	if v := strings.TrimSpace(r.FormValue("threshold")); v != "" {
		th, err := strconv.ParseFloat(v, 64)
		if err != nil || th < 0 {
			fail(http.StatusBadRequest, "invalid threshold %q", v)
			return
		}
		opts.Threshold = th
	}
	if v := strings.TrimSpace(r.FormValue("penalize")); v != "" {
		p, err := strconv.ParseBool(v)
		if err != nil {
			fail(http.StatusBadRequest, "invalid penalize %q", v)
			return
		}
		opts.PenalizeLengthMismatch = p
	}
	lang := s.opts.Lang
	if v := r.FormValue("lang"); v != "" {
		l, err := report.ParseLanguage(v)
		if err != nil {
			fail(http.StatusBadRequest, "%v", err)
			return
		}
		lang = l
	}
	team := strings.TrimSpace(r.FormValue("team"))

	truthPath, truthName, err := s.saveFormFile(r, "truth")
	if err != nil {
		fail(http.StatusBadRequest, "truth: %v", err)
		return
	}
	defer os.Remove(truthPath)
	decodedPath, decodedName, err := s.saveFormFile(r, "decoded")
	if err != nil {
		fail(http.StatusBadRequest, "decoded: %v", err)
		return
	}
	defer os.Remove(decodedPath)

	truthBuf, err := common.ReadInput(truthPath)
	if err != nil {
		fail(http.StatusBadRequest, "read truth: %v", err)
		return
	}
	decodedBuf, err := common.ReadInput(decodedPath)
	if err != nil {
		fail(http.StatusBadRequest, "read decoded: %v", err)
		return
	}

	truth := collate.FromBuffer(truthBuf, s.opts.Marker, collate.WithLogger(s.log))
	decoded := collate.FromBuffer(decodedBuf, s.opts.Marker, collate.WithLogger(s.log))
	score := ber.Score(truth, decoded, opts)
	res := report.NewResult(team, score, truth, decoded)
	res.TruthFile = truthName
	res.DecodedFile = decodedName

	refs, err := s.storeRun(res, lang, truth, decoded)
	if err != nil {
		fail(http.StatusInternalServerError, "store run: %v", err)
		return
	}

	s.metrics.observeCollation("truth", truth.Stats)
	s.metrics.observeCollation("decoded", decoded.Stats)
	s.metrics.scores.WithLabelValues(verdict(res.Pass)).Inc()
	s.metrics.ber.Observe(res.BER)
	s.metrics.lastBER.Set(res.BER)
	s.log.WithFields(logrus.Fields{
		"run":     res.RunID,
		"team":    team,
		"ber":     res.BER,
		"errors":  res.ErrorBits,
		"scored":  res.TotalScoredBits,
		"pass":    res.Pass,
		"elapsed": time.Since(start).String(),
	}).Info("scored run")

	writeJSON(w, http.StatusOK, scoreResponse{Result: res, Artifacts: refs})
}

// storeRun writes the result, report, diagnostics and manifest of one run
// into its own directory and indexes it.
func (s *Server) storeRun(res report.Result, lang report.Language, truth, decoded *collate.Collation) ([]ArtifactRef, error) {
	dir := filepath.Join(s.resultsDir, res.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	jsonPath := filepath.Join(dir, resultFile)
	if err := report.SaveJSON(res, jsonPath); err != nil {
		return nil, fmt.Errorf("write result: %w", err)
	}
	pdfPath := filepath.Join(dir, pdfFile)
	if err := report.SavePDF(res, pdfPath, lang); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	diagPath := filepath.Join(dir, diagnosticsFile)
	if err := writeDiagnostics(diagPath, truth, decoded); err != nil {
		return nil, fmt.Errorf("write diagnostics: %w", err)
	}
	m, err := manifest.Build(res.RunID, []manifest.Entry{
		{Path: jsonPath, Type: manifest.TypeResult},
		{Path: pdfPath, Type: manifest.TypePDF},
		{Path: diagPath, Type: manifest.TypeDiagnostics},
	})
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}
	manifestPath := filepath.Join(dir, manifestFile)
	if err := manifest.Save(m, manifestPath); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	s.results.put(Run{
		ID:        res.RunID,
		Team:      res.TeamName,
		BER:       res.BER,
		Pass:      res.Pass,
		CreatedAt: res.CreatedAt,
		Dir:       dir,
	})

	base := "/results/" + res.RunID
	refs := []ArtifactRef{
		artifactRef(jsonPath, base, "result"),
		artifactRef(pdfPath, base+".pdf", "report"),
		artifactRef(diagPath, base+"/diagnostics", "diagnostics"),
		artifactRef(manifestPath, base+"/manifest", "manifest"),
	}
	return refs, nil
}

func writeDiagnostics(path string, truth, decoded *collate.Collation) error {
	dl, err := common.OpenDiagLog(path)
	if err != nil {
		return err
	}
	for _, c := range []struct {
		stream string
		col    *collate.Collation
	}{{"truth", truth}, {"decoded", decoded}} {
		for _, d := range c.col.Diagnostics {
			if err := dl.Append(d.Entry(c.stream)); err != nil {
				dl.Close()
				return err
			}
		}
	}
	return dl.Close()
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	defer func() {
		s.metrics.duration.WithLabelValues("inspect").Observe(time.Since(start).Seconds())
	}()
	if status, err := s.parseUpload(w, r); err != nil {
		s.metrics.requestFails.WithLabelValues("inspect").Inc()
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), status)
		return
	}
	defer r.MultipartForm.RemoveAll()
	stream := r.FormValue("stream")
	if stream == "" {
		stream = "decoded"
	}
	path, _, err := s.saveFormFile(r, "file")
	if err != nil {
		s.metrics.requestFails.WithLabelValues("inspect").Inc()
		http.Error(w, fmt.Sprintf("file: %v", err), http.StatusBadRequest)
		return
	}
	defer os.Remove(path)
	buf, err := common.ReadInput(path)
	if err != nil {
		s.metrics.requestFails.WithLabelValues("inspect").Inc()
		http.Error(w, fmt.Sprintf("read file: %v", err), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	writer := NewNDJSONWriter(w)
	c := collate.FromBuffer(buf, s.opts.Marker,
		collate.WithLogger(s.log),
		collate.WithoutDiagnostics(),
		collate.WithCallback(func(d collate.SliceDiagnostic) error {
			e := d.Entry(stream)
			e.Ts = time.Now().UTC()
			return writer.WriteDiagnostic(e)
		}),
	)
	s.metrics.observeCollation(stream, c.Stats)
	summary := struct {
		Type     string        `json:"type"`
		Stats    collate.Stats `json:"stats"`
		Counters int           `json:"counters"`
	}{
		Type:     "summary",
		Stats:    c.Stats,
		Counters: c.Len(),
	}
	_ = writer.WriteObject(summary)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/results/")
	if rest == "" {
		writeJSON(w, http.StatusOK, s.results.List())
		return
	}
	id, part, _ := strings.Cut(rest, "/")
	var name, contentType string
	switch {
	case part == "diagnostics":
		name, contentType = diagnosticsFile, "application/zstd"
	case part == "manifest":
		name, contentType = manifestFile, "application/json"
	case part != "":
		http.NotFound(w, r)
		return
	case strings.HasSuffix(id, ".pdf"):
		id = strings.TrimSuffix(id, ".pdf")
		name, contentType = pdfFile, "application/pdf"
	default:
		id = strings.TrimSuffix(id, ".json")
		name, contentType = resultFile, "application/json"
	}
	dir, ok := s.runDir(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(dir, name)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	if contentType != "application/json" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"-"+name))
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// runDir resolves a run ID to its directory. Runs scored before a restart
// are found on disk.
func (s *Server) runDir(id string) (string, bool) {
	canonical, err := report.ParseRunID(id)
	if err != nil {
		return "", false
	}
	if run, ok := s.results.get(canonical); ok {
		return run.Dir, true
	}
	dir := filepath.Join(s.resultsDir, canonical)
	if _, err := os.Stat(filepath.Join(dir, resultFile)); err != nil {
		return "", false
	}
	return dir, true
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"runs":   s.results.Len(),
	})
}

func artifactRef(path, url, kind string) ArtifactRef {
	ref := ArtifactRef{
		Name:        filepath.Base(path),
		URL:         url,
		ContentType: guessContentType(path),
		Kind:        kind,
	}
	if info, err := os.Stat(path); err == nil {
		ref.Size = info.Size()
	}
	return ref
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func guessContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".json":
		return "application/json"
	case ".ndjson", ".jsonl":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".zst", ".zstd":
		return "application/zstd"
	case ".gz", ".gzip":
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
