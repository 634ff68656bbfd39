// Package audit implements the append-only record of case mutations.
// Entries are hash chained: each entry hash covers the previous entry's hash,
// so any edit to stored history is detected by Verify.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/hyderomar92-ai/safeguard/internal/store"
)

// ErrChainBroken is returned by Verify when an entry's hash or link does not
// match its predecessor.
var ErrChainBroken = errors.New("audit: hash chain is broken")

// genesis is the PreviousHash of the first entry.
const genesis = "genesis"

// Action names a case mutation.
type Action string

const (
	ActionCreate     Action = "case.create"
	ActionUpdate     Action = "case.update"
	ActionSetStatus  Action = "case.set_status"
	ActionToggleStep Action = "case.toggle_step"
	ActionSaveNotes  Action = "case.save_resolution_notes"
	ActionRegenerate Action = "case.regenerate"
	ActionDelete     Action = "case.delete"
)

// Record is what a caller appends.
type Record struct {
	Timestamp time.Time
	Actor     string
	Action    Action
	CaseID    string
	// Payload is any JSON-encodable detail. It is stored in canonical form.
	Payload any
}

// Entry is a single immutable audit entry.
type Entry struct {
	ID           string          `json:"id"`
	Sequence     uint64          `json:"sequence"`
	Timestamp    time.Time       `json:"timestamp"`
	Actor        string          `json:"actor"`
	Action       Action          `json:"action"`
	CaseID       string          `json:"case_id"`
	Payload      json.RawMessage `json:"payload"`
	PayloadHash  string          `json:"payload_hash"`
	PreviousHash string          `json:"previous_hash"`
	EntryHash    string          `json:"entry_hash"`
}

// Log is an append-only audit log.
type Log interface {
	Append(ctx context.Context, r Record) (*Entry, error)
	Query(ctx context.Context, f Filter) ([]*Entry, error)
	Verify(ctx context.Context) error
}

// Filter narrows Query results. Zero-valued fields match everything.
type Filter struct {
	CaseID     string
	Actor      string
	Action     Action
	Since      time.Time
	Until      time.Time
	MaxResults int
}

func (f Filter) matches(e *Entry) bool {
	if f.CaseID != "" && e.CaseID != f.CaseID {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// canonicalPayload encodes p as RFC 8785 canonical JSON.
func canonicalPayload(p any) ([]byte, error) {
	if p == nil {
		p = struct{}{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal payload: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("audit: canonicalise payload: %w", err)
	}
	return out, nil
}

func computeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// computeEntryHash hashes the canonical form of every field except the entry
// hash itself and the id.
func computeEntryHash(e *Entry) (string, error) {
	hashable := struct {
		Sequence     uint64 `json:"sequence"`
		Timestamp    string `json:"timestamp"`
		Actor        string `json:"actor"`
		Action       Action `json:"action"`
		CaseID       string `json:"case_id"`
		PayloadHash  string `json:"payload_hash"`
		PreviousHash string `json:"previous_hash"`
	}{
		Sequence:     e.Sequence,
		Timestamp:    store.FormatTime(e.Timestamp),
		Actor:        e.Actor,
		Action:       e.Action,
		CaseID:       e.CaseID,
		PayloadHash:  e.PayloadHash,
		PreviousHash: e.PreviousHash,
	}
	raw, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("audit: marshal entry for hashing: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalise entry: %w", err)
	}
	return computeHash(canon), nil
}

// seal fills the derived fields of e given the chain head.
func seal(e *Entry, payload []byte, prev string) error {
	e.Payload = payload
	e.PayloadHash = computeHash(payload)
	e.PreviousHash = prev
	h, err := computeEntryHash(e)
	if err != nil {
		return err
	}
	e.EntryHash = h
	return nil
}

// verifyChain checks entries in sequence order.
func verifyChain(entries []*Entry) error {
	expectedPrev := genesis
	for i, e := range entries {
		if e.Sequence != uint64(i+1) {
			return fmt.Errorf("%w: entry %d has sequence %d", ErrChainBroken, i, e.Sequence)
		}
		if e.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s but expected %s",
				ErrChainBroken, i, e.PreviousHash, expectedPrev)
		}
		if computeHash(e.Payload) != e.PayloadHash {
			return fmt.Errorf("%w: entry %d payload hash mismatch", ErrChainBroken, i)
		}
		computed, err := computeEntryHash(e)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %w", ErrChainBroken, i, err)
		}
		if computed != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, i, computed, e.EntryHash)
		}
		expectedPrev = e.EntryHash
	}
	return nil
}
