package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// fingerprintInput is the canonical form hashed by Fingerprint.
// Field order is fixed by the struct, instants are normalized to UTC.
type fingerprintInput struct {
	UID         string `json:"uid"`
	Title       string `json:"title"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

// Fingerprint returns a content hash of the fields that matter downstream
func Fingerprint(item SourceItem) string {
	data, err := json.Marshal(fingerprintInput{
		UID:         item.UID,
		Title:       item.Title,
		Start:       formatInstant(item.Start),
		End:         formatInstant(item.End),
		Description: item.Description,
		Location:    item.Location,
	})
	if err != nil {
		// Marshalling a struct of strings cannot fail
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
