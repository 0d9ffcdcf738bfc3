package domain

import "time"

// AuditAction identifies the state-changing action an AuditEntry records.
type AuditAction string

const (
	AuditActionEventIngested    AuditAction = "event.ingested"
	AuditActionReviewRecorded   AuditAction = "review.recorded"
	AuditActionExportFinalized  AuditAction = "export.finalized"
	AuditActionAuditExported    AuditAction = "audit.exported"
	AuditActionProofRequested   AuditAction = "proof.requested"
	AuditActionProofUpdated     AuditAction = "proof.updated"
	AuditActionDeviceRegistered AuditAction = "device.registered"
)

// AuditEntry is one hash-chained ledger entry. Seq is gapless and strictly
// increasing; EntryHash covers seq, previous hash, timestamp, and the action
// payload digest, so any silent alteration breaks chain verification.
type AuditEntry struct {
	Seq           int64       `json:"seq"`
	Action        AuditAction `json:"action"`
	Actor         string      `json:"actor"`
	Target        string      `json:"target"`
	PayloadDigest string      `json:"payload_digest"`
	Timestamp     time.Time   `json:"timestamp"`
	PrevHash      string      `json:"prev_hash"`
	EntryHash     string      `json:"entry_hash"`
}
