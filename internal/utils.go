package internal

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateRunID creates a unique ID for a benchmark run based on the start
// time and the model name.
// Format: YYYYMMDD_HHMMSS_md5(model)[:8]
func GenerateRunID(modelName string, start time.Time) string {
	hash := md5.Sum([]byte(modelName))
	hashStr := hex.EncodeToString(hash[:])[:8] // Use first 8 chars of MD5

	return fmt.Sprintf("%s_%s", start.Format("20060102_150405"), hashStr)
}
