package compose

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/signato/signato/internal/domain"
)

// CertificateEntry is one audit record as attested by the certificate
type CertificateEntry struct {
	Seq       int64              `json:"seq"`
	Actor     string             `json:"actor"`
	Action    domain.AuditAction `json:"action"`
	Timestamp time.Time          `json:"timestamp"`
}

// Certificate is the audit attestation attached to a final artifact. It is
// derived entirely from recorded audit data, so it can be re-derived from
// the audit log for independent verification, and carries no wall-clock
// state of its own.
type Certificate struct {
	DocumentID  string             `json:"document_id"`
	Fingerprint string             `json:"fingerprint"`
	Entries     []CertificateEntry `json:"entries"`
}

// BuildCertificate serializes the certificate for a document. Marshaling a
// struct is deterministic, which the composition retry guarantee relies on.
func BuildCertificate(documentID, fingerprint string, entries []*domain.AuditEntry) ([]byte, error) {
	cert := Certificate{
		DocumentID:  documentID,
		Fingerprint: fingerprint,
		Entries:     make([]CertificateEntry, 0, len(entries)),
	}
	for _, e := range entries {
		cert.Entries = append(cert.Entries, CertificateEntry{
			Seq:       e.Seq,
			Actor:     e.Actor,
			Action:    e.Action,
			Timestamp: e.Timestamp,
		})
	}
	return json.Marshal(cert)
}

// VerifyCertificate checks a certificate against the authoritative audit
// log: every attested entry must match the log at its sequence position,
// and the fingerprint must match the expected artifact fingerprint.
func VerifyCertificate(data []byte, fingerprint string, log []*domain.AuditEntry) error {
	var cert Certificate
	if err := json.Unmarshal(data, &cert); err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}
	if cert.Fingerprint != fingerprint {
		return fmt.Errorf("certificate fingerprint mismatch: %s != %s", cert.Fingerprint, fingerprint)
	}
	if len(cert.Entries) > len(log) {
		return fmt.Errorf("certificate attests %d entries but the log has %d", len(cert.Entries), len(log))
	}

	for i, ce := range cert.Entries {
		le := log[i]
		rebuilt := CertificateEntry{Seq: le.Seq, Actor: le.Actor, Action: le.Action, Timestamp: le.Timestamp}
		a, err := json.Marshal(ce)
		if err != nil {
			return err
		}
		b, err := json.Marshal(rebuilt)
		if err != nil {
			return err
		}
		if !bytes.Equal(a, b) {
			return fmt.Errorf("certificate entry %d does not match the audit log", ce.Seq)
		}
	}
	return nil
}
