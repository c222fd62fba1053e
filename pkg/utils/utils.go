package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeSHA256 computes the SHA256 hash of data
func ComputeSHA256(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// FormatBytes formats byte size in human-readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	suffixes := []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), suffixes[exp])
}

// FormatProgress renders a one-line upload progress report
func FormatProgress(name string, sent, total int64, status string) string {
	if total <= 0 {
		return fmt.Sprintf("%s: %s sent, last reply %s", name, FormatBytes(sent), status)
	}
	pct := float64(sent) * 100 / float64(total)
	return fmt.Sprintf("%s: %s of %s (%.0f%%) sent, last reply %s", name, FormatBytes(sent), FormatBytes(total), pct, status)
}
