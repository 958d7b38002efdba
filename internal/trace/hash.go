package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainEvent = "fluxo/event/v1"
	DomainTrace = "fluxo/trace/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EntryID computes the content-addressed id of an entry within a run.
// Timestamps are not part of Entry, so the id is stable across replays.
func EntryID(runID string, e Entry) (string, error) {
	canonical, err := MarshalCanonical(struct {
		RunID string `json:"run_id"`
		Entry Entry  `json:"entry"`
	}{runID, e})
	if err != nil {
		return "", fmt.Errorf("EntryID: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// Hash computes a digest of a whole trace. Two runs with the same
// normalized entries hash the same.
func Hash(entries []Entry) (string, error) {
	if entries == nil {
		entries = []Entry{}
	}
	canonical, err := MarshalCanonical(entries)
	if err != nil {
		return "", fmt.Errorf("trace hash: %w", err)
	}
	return hashWithDomain(DomainTrace, canonical), nil
}
