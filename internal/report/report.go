package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"example.com/bergate/internal/ber"
	"example.com/bergate/internal/collate"
	"example.com/bergate/internal/common"
)

// Result is the scoring verdict written to the results file. The BER fields
// are flattened into the top-level object.
type Result struct {
	RunID     string    `json:"run_id,omitempty"`
	TeamName  string    `json:"team_name"`
	CreatedAt time.Time `json:"created_at"`
	ber.Result
	TruthStats   collate.Stats `json:"truth_stats"`
	DecodedStats collate.Stats `json:"decoded_stats"`
	TruthFile    string        `json:"truth_file,omitempty"`
	DecodedFile  string        `json:"decoded_file,omitempty"`
}

// NewResult stamps a score with a fresh run ID and the recovery statistics
// of both collations.
func NewResult(team string, score ber.Result, truth, decoded *collate.Collation) Result {
	res := Result{
		RunID:     uuid.NewString(),
		TeamName:  team,
		CreatedAt: time.Now().UTC(),
		Result:    score,
	}
	if truth != nil {
		res.TruthStats = truth.Stats
	}
	if decoded != nil {
		res.DecodedStats = decoded.Stats
	}
	return res
}

func SaveJSON(res Result, out string) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadJSON(path string) (Result, error) {
	var res Result
	b, err := os.ReadFile(path)
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(b, &res); err != nil {
		return res, fmt.Errorf("decode result %s: %w", path, err)
	}
	return res, nil
}

// Digest returns the SHA-256 of the compact JSON encoding of res.
func Digest(res Result) (string, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	h := common.NewHasher()
	if _, err := h.Write(b); err != nil {
		return "", err
	}
	return h.Sum(), nil
}

// ParseRunID validates a run identifier supplied by a client.
func ParseRunID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", errors.New("invalid run id")
	}
	return u.String(), nil
}
