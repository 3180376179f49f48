// Package dedupe makes statement imports idempotent. Every transaction gets
// a content-derived hash; persistence upserts under the (org, hash) key in
// bounded chunks, so re-importing a statement inserts nothing new.
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jstachowiak/opsledger/internal/ledger"
)

// DefaultChunkSize bounds rows per upsert call to respect backend payload
// limits.
const DefaultChunkSize = 500

// fieldSeparator keeps distinct field sets from colliding after
// concatenation ("ab"+"c" vs "a"+"bc").
const fieldSeparator = "\x1f"

// Hash computes the transaction's content hash: a SHA-256 over booking date,
// amount, currency, description and counterparty fields. Collision
// resistance matters here; two distinct real transactions must never map to
// the same key.
func Hash(t *ledger.Transaction) string {
	parts := []string{
		t.BookingDate.String(),
		fmt.Sprintf("%.2f", t.Amount),
		t.Currency,
		t.Description,
		t.CounterpartyAccount,
		t.CounterpartyName,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, fieldSeparator)))
	return hex.EncodeToString(sum[:])
}

// Ledger is the persistence surface the upserter needs: insert the rows of
// one chunk that are not already present under (org, transaction_hash) and
// report how many were new. A conflicting concurrent insert counts as
// "already exists", never as an error.
type Ledger interface {
	UpsertTransactions(ctx context.Context, org ledger.OrgContext, txs []*ledger.Transaction) (inserted int, err error)
}

// ChunkError reports a failed chunk with enough detail to retry safely.
// Chunks committed before the failure stay committed.
type ChunkError struct {
	Chunk  int // zero-based chunk index
	Chunks int // total chunks in the batch
	Err    error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("upsert chunk %d/%d failed: %v", e.Chunk+1, e.Chunks, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Upserter writes transaction batches through a Ledger in chunks.
type Upserter struct {
	Ledger    Ledger
	ChunkSize int
}

func NewUpserter(l Ledger) *Upserter {
	return &Upserter{Ledger: l, ChunkSize: DefaultChunkSize}
}

// Upsert stamps each transaction with its content hash and writes the batch
// chunk by chunk. It returns the inserted and skipped (duplicate) counts;
// on a chunk failure the counts cover the committed chunks and err is a
// *ChunkError. The operation is interruptible between chunks via ctx.
func (u *Upserter) Upsert(ctx context.Context, org ledger.OrgContext, txs []*ledger.Transaction) (inserted, skipped int, err error) {
	for _, t := range txs {
		t.TransactionHash = Hash(t)
	}

	size := u.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	total := (len(txs) + size - 1) / size

	for i := 0; i < len(txs); i += size {
		if err := ctx.Err(); err != nil {
			return inserted, skipped, &ChunkError{Chunk: i / size, Chunks: total, Err: err}
		}
		end := i + size
		if end > len(txs) {
			end = len(txs)
		}
		chunk := txs[i:end]

		n, err := u.Ledger.UpsertTransactions(ctx, org, chunk)
		if err != nil {
			return inserted, skipped, &ChunkError{Chunk: i / size, Chunks: total, Err: err}
		}
		inserted += n
		skipped += len(chunk) - n
	}
	return inserted, skipped, nil
}
