// Package audit seals audit events into a tamper-evident HMAC chain and
// verifies chains read back from a store.
package audit

import (
	"cmp"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/artisan-mcp/artisan-mcp/pkg/types"
)

const (
	AlgorithmSHA256 = "hmac-sha256"
	AlgorithmSHA512 = "hmac-sha512"
)

// MinKeyLength is the minimum recommended key length for HMAC-SHA256.
const MinKeyLength = 32

// ErrBrokenChain is matched by every VerifyError.
var ErrBrokenChain = errors.New("audit chain broken")

// VerifyError reports the first event that does not fit the chain.
type VerifyError struct {
	Sequence int64
	EventID  string
	Reason   string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("audit chain broken at sequence %d (event %s): %s", e.Sequence, e.EventID, e.Reason)
}

func (e *VerifyError) Is(target error) bool { return target == ErrBrokenChain }

// Chain maintains HMAC chain state. Each entry's hash covers its sequence
// number, the previous entry's hash and the event itself.
type Chain struct {
	mu        sync.Mutex
	key       []byte
	algorithm string
	sequence  int64
	prevHash  string
}

// NewChain creates a chain. An empty algorithm means hmac-sha256.
func NewChain(key []byte, algorithm string) (*Chain, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("key too short: got %d bytes, need at least %d", len(key), MinKeyLength)
	}
	if algorithm == "" {
		algorithm = AlgorithmSHA256
	}
	switch algorithm {
	case AlgorithmSHA256, AlgorithmSHA512:
	default:
		return nil, fmt.Errorf("unsupported algorithm %q: use %s or %s", algorithm, AlgorithmSHA256, AlgorithmSHA512)
	}
	return &Chain{key: key, algorithm: algorithm}, nil
}

// LoadKey reads an HMAC key from keyFile, or from the environment variable
// keyEnv when no file is given.
func LoadKey(keyFile, keyEnv string) ([]byte, error) {
	if keyFile != "" {
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file %q: %w", keyFile, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return nil, fmt.Errorf("key file %q is empty", keyFile)
		}
		return []byte(key), nil
	}

	if keyEnv != "" {
		key := os.Getenv(keyEnv)
		if key == "" {
			return nil, fmt.Errorf("environment variable %q is empty or not set", keyEnv)
		}
		return []byte(key), nil
	}

	return nil, errors.New("no key source specified: provide key_file or key_env")
}

// Seal assigns the next sequence number to ev and sets its integrity
// metadata. Any metadata already on ev is replaced.
func (c *Chain) Seal(ev *types.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, err := canonical(*ev)
	if err != nil {
		return err
	}
	seq := c.sequence + 1
	sum := c.computeHash(seq, c.prevHash, payload)
	ev.Integrity = &types.Integrity{Sequence: seq, PrevHash: c.prevHash, EntryHash: sum}

	c.sequence = seq
	c.prevHash = sum
	return nil
}

// State returns the sequence number and hash of the last sealed entry.
func (c *Chain) State() (int64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence, c.prevHash
}

// Restore continues a chain after a restart.
func (c *Chain) Restore(sequence int64, prevHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequence = sequence
	c.prevHash = prevHash
}

// Verify checks that events form an unbroken chain under c's key. Events are
// ordered by sequence first; the chain may start mid-way (rotated logs) but
// must have no gaps. It returns the number of verified events.
func (c *Chain) Verify(events []types.Event) (int, error) {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b types.Event) int {
		return cmp.Compare(seqOf(a), seqOf(b))
	})

	var prev *types.Integrity
	for i, ev := range sorted {
		in := ev.Integrity
		if in == nil {
			return i, &VerifyError{EventID: ev.ID, Reason: "missing integrity metadata"}
		}
		fail := func(reason string) (int, error) {
			return i, &VerifyError{Sequence: in.Sequence, EventID: ev.ID, Reason: reason}
		}
		if prev != nil {
			if in.Sequence != prev.Sequence+1 {
				return fail(fmt.Sprintf("expected sequence %d", prev.Sequence+1))
			}
			if in.PrevHash != prev.EntryHash {
				return fail("previous hash mismatch")
			}
		} else if in.Sequence == 1 && in.PrevHash != "" {
			return fail("first entry has a previous hash")
		}
		payload, err := canonical(ev)
		if err != nil {
			return fail(err.Error())
		}
		if !hmac.Equal([]byte(c.computeHash(in.Sequence, in.PrevHash, payload)), []byte(in.EntryHash)) {
			return fail("entry hash mismatch")
		}
		prev = in
	}
	return len(sorted), nil
}

func seqOf(ev types.Event) int64 {
	if ev.Integrity == nil {
		return 0
	}
	return ev.Integrity.Sequence
}

// canonical renders ev without its integrity metadata. The struct is
// re-marshaled through a map so that an event read back from a store hashes
// the same as the one that was sealed.
func canonical(ev types.Event) ([]byte, error) {
	ev.Integrity = nil
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("canonicalize event: %w", err)
	}
	return json.Marshal(m)
}

// computeHash computes the HMAC of: sequence | prev_hash | payload
func (c *Chain) computeHash(sequence int64, prevHash string, payload []byte) string {
	var h hash.Hash
	switch c.algorithm {
	case AlgorithmSHA512:
		h = hmac.New(sha512.New, c.key)
	default:
		h = hmac.New(sha256.New, c.key)
	}

	h.Write([]byte(strconv.FormatInt(sequence, 10)))
	h.Write([]byte("|"))
	h.Write([]byte(prevHash))
	h.Write([]byte("|"))
	h.Write(payload)

	return hex.EncodeToString(h.Sum(nil))
}
