// Package pairing implements the one-time pairing handshake that binds
// an anonymous display connection to a persisted display identity.
package pairing

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/lodgevision/signage/internal/errs"
	"github.com/lodgevision/signage/internal/registry"
)

// Codes avoid 0/O and 1/I so guests can read them off a TV screen.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultExpiry bounds how long an unconfirmed code stays valid.
const DefaultExpiry = 5 * time.Minute

// Record is one outstanding pairing code. Each code maps to exactly one
// unpaired connection and is consumed exactly once.
type Record struct {
	Code      string    `json:"code"`
	ConnID    string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Broker issues and confirms pairing codes. Expiry is enforced by the
// TTL cache, so a code can never be reused after a display reconnects
// with a new socket.
type Broker struct {
	// confirmMu serializes confirms so the lookup-and-delete of a code
	// is atomic and a code can only ever be consumed once.
	confirmMu  sync.Mutex
	codes      *cache.Cache
	displays   registry.DisplayRegistry
	clock      clockwork.Clock
	codeLength int
	expiry     time.Duration
}

// NewBroker creates a broker with the given code length and TTL.
// Zero values fall back to a 6-character code and DefaultExpiry.
func NewBroker(displays registry.DisplayRegistry, clock clockwork.Clock, codeLength int, expiry time.Duration) *Broker {
	if codeLength <= 0 {
		codeLength = 6
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Broker{
		codes:      cache.New(expiry, expiry/2),
		displays:   displays,
		clock:      clock,
		codeLength: codeLength,
		expiry:     expiry,
	}
}

// RequestPairing issues a fresh code bound to the requesting
// connection. Concurrent requests always receive distinct codes.
func (b *Broker) RequestPairing(connID string) (*Record, error) {
	for attempt := 0; attempt < 10; attempt++ {
		code, err := generateCode(b.codeLength)
		if err != nil {
			return nil, fmt.Errorf("generate pairing code: %w", err)
		}
		now := b.clock.Now()
		rec := &Record{
			Code:      code,
			ConnID:    connID,
			CreatedAt: now,
			ExpiresAt: now.Add(b.expiry),
		}
		// Add fails if the code is already outstanding, which keeps
		// concurrent requests collision-free.
		if err := b.codes.Add(code, rec, cache.DefaultExpiration); err == nil {
			log.Info().Str("code", code).Str("conn_id", connID).Msg("pairing code issued")
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%w: could not allocate a unique pairing code", errs.ErrSync)
}

// GetPairingData looks a code up without consuming it.
func (b *Broker) GetPairingData(code string) *Record {
	if v, ok := b.codes.Get(code); ok {
		return v.(*Record)
	}
	return nil
}

// ConfirmPairing consumes a code: the display is marked paired in the
// registry and the stored connection is returned so the caller can
// notify the exact socket that requested pairing.
func (b *Broker) ConfirmPairing(ctx context.Context, code, displayID string) (*Record, error) {
	b.confirmMu.Lock()
	defer b.confirmMu.Unlock()

	v, ok := b.codes.Get(code)
	if !ok {
		return nil, fmt.Errorf("%w: invalid or expired pairing code", errs.ErrNotFound)
	}
	rec := v.(*Record)

	if err := b.displays.MarkPaired(ctx, displayID); err != nil {
		return nil, fmt.Errorf("mark display %s paired: %w", displayID, err)
	}

	// Single use.
	b.codes.Delete(code)
	log.Info().Str("code", code).Str("display_id", displayID).Msg("pairing confirmed")
	return rec, nil
}

func generateCode(length int) (string, error) {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
