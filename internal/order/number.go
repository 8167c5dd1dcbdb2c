package order

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewNumber builds a unique, human-readable order number. It doubles as the
// idempotency key shared with payment providers, so the format is stable.
func NewNumber(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("SUB-%s-%s", now.UTC().Format("20060102150405"), hex.EncodeToString(id[:5]))
}
