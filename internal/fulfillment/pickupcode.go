package fulfillment

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// PickupCodePrefix starts every pickup verification code.
const PickupCodePrefix = "PICK"

// CodeGenerator produces a candidate pickup code. Uniqueness among unredeemed codes
// is enforced by the store, not the generator.
type CodeGenerator func(now time.Time) string

// DefaultCodeGenerator returns PICK + the last 6 digits of the unix-millis clock +
// 3 random digits, e.g. PICK482913057.
func DefaultCodeGenerator(now time.Time) string {
	return fmt.Sprintf("%s%06d%03d", PickupCodePrefix, now.UnixMilli()%1_000_000, rand.IntN(1000))
}
