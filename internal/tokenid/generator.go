// Package tokenid generates and parses token identifiers.
//
// An id reads as Event_Day<day>_<block>-<flat>_T<seq>_<ulid>. The readable part encodes the issuance
// context; the ULID suffix carries a millisecond clock plus 80 bits of crypto-random entropy that
// increases monotonically within the same millisecond, so two calls never yield the same id.
package tokenid

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"

	"github.com/and161185/foodtoken/internal/model"
)

// ErrMalformed is returned by Parse for strings not produced by a Generator.
var ErrMalformed = errors.New("tokenid: malformed id")

// Generator produces token ids. Safe for concurrent use.
type Generator struct {
	entropy io.Reader
	now     func() time.Time
}

// New returns a Generator backed by crypto/rand.
func New() *Generator {
	return NewWithEntropy(rand.Reader, time.Now)
}

// NewWithEntropy returns a Generator using the given entropy source and clock.
func NewWithEntropy(src io.Reader, now func() time.Time) *Generator {
	return &Generator{
		entropy: &ulid.LockedMonotonicReader{MonotonicReader: ulid.Monotonic(src, 0)},
		now:     now,
	}
}

// Generate returns a fresh id for the context. Every call yields a distinct id,
// including repeated calls with an identical context.
func (g *Generator) Generate(c model.TokenContext) (string, error) {
	suffix, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		return "", fmt.Errorf("tokenid: entropy: %w", err)
	}
	return Prefix(c) + suffix.String(), nil
}

// Prefix returns the deterministic, human-readable part of an id including the trailing separator.
func Prefix(c model.TokenContext) string {
	var b strings.Builder
	b.WriteString(clean(c.Event, true))
	b.WriteString("_Day")
	b.WriteString(clean(c.Day, false))
	b.WriteString("_")
	b.WriteString(clean(c.Block, false))
	b.WriteString("-")
	b.WriteString(clean(c.Flat, false))
	b.WriteString("_T")
	b.WriteString(strconv.Itoa(c.Seq))
	b.WriteString("_")
	return b.String()
}

// Parse recovers the encoded context and the suffix of an id.
// Event, block and flat come back in their cleaned form.
func Parse(id string) (model.TokenContext, ulid.ULID, error) {
	parts := strings.Split(id, "_")
	if len(parts) != 5 {
		return model.TokenContext{}, ulid.ULID{}, ErrMalformed
	}
	day, ok := strings.CutPrefix(parts[1], "Day")
	if !ok || day == "" {
		return model.TokenContext{}, ulid.ULID{}, ErrMalformed
	}
	block, flat, ok := strings.Cut(parts[2], "-")
	if !ok {
		return model.TokenContext{}, ulid.ULID{}, ErrMalformed
	}
	seqStr, ok := strings.CutPrefix(parts[3], "T")
	if !ok {
		return model.TokenContext{}, ulid.ULID{}, ErrMalformed
	}
	seq, err := strconv.Atoi(seqStr)
	if err != nil || seq < 1 {
		return model.TokenContext{}, ulid.ULID{}, ErrMalformed
	}
	suffix, err := ulid.ParseStrict(parts[4])
	if err != nil {
		return model.TokenContext{}, ulid.ULID{}, ErrMalformed
	}
	return model.TokenContext{Event: parts[0], Day: day, Block: block, Flat: flat, Seq: seq}, suffix, nil
}

// clean keeps letters and digits; the event name may also keep dashes.
// Separators used by the id layout never survive.
func clean(s string, allowDash bool) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		case allowDash && r == '-':
			return r
		default:
			return -1
		}
	}, s)
}
