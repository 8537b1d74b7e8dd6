package report

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const qrScheme = "BERGATE"

// DigestToQR creates a QR code PNG carrying the run ID and the result
// digest, e.g. "BERGATE:<run id>:<SHA-256>".
func DigestToQR(runID, digest string, size int) ([]byte, error) {
	payload, err := qrPayload(runID, digest)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 128
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}

func qrPayload(runID, digest string) (string, error) {
	hex := sanitizeHex(digest)
	if len(hex) != 64 {
		return "", fmt.Errorf("result digest must be 64 hex digits, got %d", len(hex))
	}
	id := strings.ToUpper(strings.TrimSpace(runID))
	if id == "" {
		return qrScheme + ":" + hex, nil
	}
	return qrScheme + ":" + id + ":" + hex, nil
}

func sanitizeHex(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
