package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows a future algorithm migration.
const (
	DomainQuery  = "livesync/query/v1"
	DomainRecord = "livesync/record/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// QueryKey computes the structural identity of a query from its canonical
// IR form. Structurally equal queries always produce the same key.
func QueryKey(form IRObject) (string, error) {
	canonical, err := MarshalCanonical(form)
	if err != nil {
		return "", fmt.Errorf("QueryKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainQuery, canonical), nil
}

// RecordDigest hashes a record's collection and fields (not its version), so
// two records with identical content compare equal across resyncs.
func RecordDigest(r Record) (string, error) {
	canonical, err := MarshalCanonical(IRObject{
		"id":         IRString(r.ID),
		"collection": IRString(r.Collection),
		"fields":     r.Fields,
	})
	if err != nil {
		return "", fmt.Errorf("RecordDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}
