// Package hasher hashes API keys for the APIKey guard.
package hasher

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/actionkit/core/guard"
)

// Bcrypt hashes with bcrypt.
type Bcrypt struct {
	cost int
}

// NewBcrypt creates a bcrypt hasher. Out of range costs use the default.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

func (h *Bcrypt) Hash(plaintext string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
}

func (h *Bcrypt) Compare(hash []byte, plaintext string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(plaintext)) == nil
}

// HashKeys hashes a subject to key map. Values that already look like
// bcrypt hashes are kept as they are.
func (h *Bcrypt) HashKeys(keys map[string]string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for subject, key := range keys {
		if _, err := bcrypt.Cost([]byte(key)); err == nil {
			out[subject] = []byte(key)
			continue
		}
		hash, err := h.Hash(key)
		if err != nil {
			return nil, fmt.Errorf("hash key for %q: %w", subject, err)
		}
		out[subject] = hash
	}
	return out, nil
}

var _ guard.Hasher = (*Bcrypt)(nil)
