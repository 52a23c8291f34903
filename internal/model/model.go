// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// State is the redemption state of a token record.
type State string

const (
	StateUnredeemed State = "unredeemed"
	StateRedeemed   State = "redeemed"
)

// TokenContext describes where a token was issued. Immutable, display/audit only.
type TokenContext struct {
	Event string
	Day   string
	Block string
	Flat  string
	Seq   int // 1-based index within the day
}

// Token is a single-use token record as kept by the record store.
type Token struct {
	ID         string       // unique, immutable
	BatchID    uuid.UUID    // issuance request that created the record
	Context    TokenContext // immutable
	RedeemedAt *time.Time   // nil while unredeemed
	CreatedAt  time.Time
}

// State derives the token state from RedeemedAt.
func (t Token) State() State {
	if t.RedeemedAt != nil {
		return StateRedeemed
	}
	return StateUnredeemed
}

// CreateOutcome is the result of a conditional create.
type CreateOutcome int

const (
	Created CreateOutcome = iota + 1
	AlreadyExists
)

func (o CreateOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// RedeemStatus is one of the three redemption outcomes.
type RedeemStatus string

const (
	Redeemed        RedeemStatus = "redeemed"
	AlreadyRedeemed RedeemStatus = "already_redeemed"
	NotFound        RedeemStatus = "not_found"
)

// RedeemResult reports the redemption outcome. RedeemedAt is zero for NotFound.
type RedeemResult struct {
	Status     RedeemStatus
	RedeemedAt time.Time
}

// DayCount is a requested number of tokens for one day key.
type DayCount struct {
	Day   string
	Count int
}

// Contribution is the payment a resident pledged with a request. It is shown to
// the organiser for manual matching and never verified.
type Contribution struct {
	BaseDonation  float64
	ExtraDonation float64
	TotalAmount   float64 // including tokens; zero means the donation alone
	PaymentNote   string  // reference the resident puts in the payment app
}

// Donation is the base plus extra donation.
func (c Contribution) Donation() float64 { return c.BaseDonation + c.ExtraDonation }

// Total is TotalAmount, or Donation when no total was given.
func (c Contribution) Total() float64 {
	if c.TotalAmount > 0 {
		return c.TotalAmount
	}
	return c.Donation()
}

// IssueRequest is an issuance batch: resident context plus ordered per-day counts.
type IssueRequest struct {
	Event        string
	Block        string
	Flat         string
	Email        string        // resident address for delivery, optional for the core
	Days         []DayCount    // processed in the supplied order
	Contribution *Contribution // optional, delivery only
}

// Context returns the token context for the given day and sequence index.
func (r IssueRequest) Context(day string, seq int) TokenContext {
	return TokenContext{Event: r.Event, Day: day, Block: r.Block, Flat: r.Flat, Seq: seq}
}

// FailedToken is a slot whose record could not be created.
// TokenID is the id last attempted; its outcome is unknown when Err wraps a store failure.
type FailedToken struct {
	Day     string
	Seq     int
	TokenID string
	Err     error
}

// IssuedDay groups created token ids of a single day.
type IssuedDay struct {
	Day      string
	TokenIDs []string
}

// IssueResult lists what an issuance call created and what failed.
type IssueResult struct {
	BatchID uuid.UUID
	Tokens  []Token // created, in day-then-seq order
	Failed  []FailedToken
}

// Partial reports whether some requested slots failed.
func (r IssueResult) Partial() bool { return len(r.Failed) > 0 }

// TokenIDs returns created ids in day-then-seq order.
func (r IssueResult) TokenIDs() []string {
	out := make([]string, 0, len(r.Tokens))
	for _, t := range r.Tokens {
		out = append(out, t.ID)
	}
	return out
}

// ByDay groups created ids by day, keeping first-seen day order.
func (r IssueResult) ByDay() []IssuedDay {
	var out []IssuedDay
	idx := map[string]int{}
	for _, t := range r.Tokens {
		i, ok := idx[t.Context.Day]
		if !ok {
			i = len(out)
			idx[t.Context.Day] = i
			out = append(out, IssuedDay{Day: t.Context.Day})
		}
		out[i].TokenIDs = append(out[i].TokenIDs, t.ID)
	}
	return out
}

// ResumeRequest retries the failed subset of an earlier issuance.
type ResumeRequest struct {
	BatchID uuid.UUID
	Event   string
	Block   string
	Flat    string
	Email   string
	Failed  []FailedToken
}

// Session is an issued operator access token.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Operator is a volunteer allowed to redeem tokens. Passwords are never stored in plaintext.
type Operator struct {
	ID        uuid.UUID
	Username  string // unique
	PwdHash   []byte // Argon2id(password, Salt)
	Salt      []byte
	CreatedAt time.Time
}
