package ledger

import (
	"strconv"
	"time"

	"github.com/fieldproof/fieldproof/internal/domain"
)

// GenesisHash is the well-known constant the first entry chains from.
var GenesisHash = domain.HashBytes([]byte("fieldproof/audit-ledger/genesis/v1")) //nolint:gochecknoglobals // chain constant

var hashSep = []byte("|") //nolint:gochecknoglobals // chain constant

// EntryHash computes the chained digest for one ledger entry:
// SHA-256(seq || prevHash || timestamp || payloadDigest).
// Timestamps must be microsecond-truncated UTC so the hash survives a
// round-trip through timestamptz storage.
func EntryHash(seq int64, prevHash string, ts time.Time, payloadDigest string) string {
	return domain.HashBytes(
		[]byte(strconv.FormatInt(seq, 10)), hashSep,
		[]byte(prevHash), hashSep,
		[]byte(ts.UTC().Format(time.RFC3339Nano)), hashSep,
		[]byte(payloadDigest),
	)
}

// buildEntry links a new entry onto the head described by (headSeq, headHash).
// A zero headSeq means the chain is empty and the entry links to genesis.
func buildEntry(headSeq int64, headHash string, action domain.AuditAction, actor, target, payloadDigest string, now time.Time) *domain.AuditEntry {
	prev := headHash
	if headSeq == 0 {
		prev = GenesisHash
	}

	entry := &domain.AuditEntry{
		Seq:           headSeq + 1,
		Action:        action,
		Actor:         actor,
		Target:        target,
		PayloadDigest: payloadDigest,
		Timestamp:     now.UTC().Truncate(time.Microsecond),
		PrevHash:      prev,
	}
	entry.EntryHash = EntryHash(entry.Seq, entry.PrevHash, entry.Timestamp, entry.PayloadDigest)

	return entry
}

// Recompute returns the hash the entry should carry given its stored fields.
func Recompute(e *domain.AuditEntry) string {
	return EntryHash(e.Seq, e.PrevHash, e.Timestamp, e.PayloadDigest)
}
