// Package convert maps HTTP wire payloads to domain types and back.
package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	u "github.com/gofrs/uuid/v5"

	"github.com/and161185/foodtoken/internal/model"
	"github.com/and161185/foodtoken/internal/service"
)

// --- issuance ---

// IssueRequest is the body of POST /v1/tokens/issue.
type IssueRequest struct {
	EventName string    `json:"event_name"`
	Block     string    `json:"block"`
	Flat      string    `json:"flat"`
	Email     string    `json:"email,omitempty"`
	Days      DayCounts `json:"days"`

	BaseDonation  Amount `json:"base_donation,omitempty"`
	ExtraDonation Amount `json:"extra_donation,omitempty"`
	TotalAmount   Amount `json:"total_amount,omitempty"`
	PaymentNote   string `json:"payment_note,omitempty"`
}

// DayCounts keeps per-day counts in the order they appear in the document.
// It accepts an object {"1": 3, "2": "2"} or an array [{"day": "1", "count": 3}].
type DayCounts []model.DayCount

// UnmarshalJSON decodes either form, preserving order.
func (d *DayCounts) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*d = nil
		return nil
	case len(b) > 0 && b[0] == '[':
		var arr []struct {
			Day   string    `json:"day"`
			Count flexCount `json:"count"`
		}
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		out := make(DayCounts, 0, len(arr))
		for _, e := range arr {
			out = append(out, model.DayCount{Day: e.Day, Count: int(e.Count)})
		}
		*d = out
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("days: want object or array")
	}
	var out DayCounts
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var c flexCount
		if err := dec.Decode(&c); err != nil {
			return fmt.Errorf("days[%q]: %w", key, err)
		}
		out = append(out, model.DayCount{Day: key, Count: int(c)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*d = out
	return nil
}

// MarshalJSON writes the object form in slice order.
func (d DayCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, dc := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(dc.Day)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(dc.Count))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// flexCount accepts 3, "3" or "" (zero).
type flexCount int

func (c *flexCount) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*c = flexCount(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("count: want number")
	}
	if s == "" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("count: %q is not a number", s)
	}
	*c = flexCount(n)
	return nil
}

// Amount is a money value that accepts 100, 100.5, "100" or "" (zero).
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*a = Amount(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("amount: want number")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*a = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("amount: %q is not a number", s)
	}
	*a = Amount(f)
	return nil
}

// FromIssueRequest converts the wire request to a domain request.
// Contribution stays nil when no amount or note was sent.
func FromIssueRequest(in IssueRequest) model.IssueRequest {
	out := model.IssueRequest{
		Event: in.EventName,
		Block: in.Block,
		Flat:  in.Flat,
		Email: in.Email,
		Days:  []model.DayCount(in.Days),
	}
	c := model.Contribution{
		BaseDonation:  float64(in.BaseDonation),
		ExtraDonation: float64(in.ExtraDonation),
		TotalAmount:   float64(in.TotalAmount),
		PaymentNote:   strings.TrimSpace(in.PaymentNote),
	}
	if c != (model.Contribution{}) {
		out.Contribution = &c
	}
	return out
}

// IssuedDay lists created ids of one day.
type IssuedDay struct {
	Day      string   `json:"day"`
	TokenIDs []string `json:"token_ids"`
}

// FailedSlot is a slot that was not created; send it back to /v1/tokens/issue/retry.
type FailedSlot struct {
	Day     string `json:"day"`
	Seq     int    `json:"seq"`
	TokenID string `json:"token_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Preview is a rendered token image.
type Preview struct {
	Label   string `json:"label"`
	TokenID string `json:"token_id"`
	DataURL string `json:"data_url"`
}

// IssueResponse is returned by issuance and retry.
type IssueResponse struct {
	BatchID     string       `json:"batch_id"`
	Days        []IssuedDay  `json:"days"`
	Failed      []FailedSlot `json:"failed,omitempty"`
	Previews    []Preview    `json:"previews,omitempty"`
	Notified    bool         `json:"notified"`
	NotifyError string       `json:"notify_error,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// ToIssueResponse converts an issuance result and its delivery report.
func ToIssueResponse(res model.IssueResult, rep service.DeliveryReport) IssueResponse {
	out := IssueResponse{BatchID: res.BatchID.String(), Days: []IssuedDay{}, Notified: rep.Notified}
	for _, d := range res.ByDay() {
		out.Days = append(out.Days, IssuedDay{Day: d.Day, TokenIDs: d.TokenIDs})
	}
	for _, f := range res.Failed {
		fs := FailedSlot{Day: f.Day, Seq: f.Seq, TokenID: f.TokenID}
		if f.Err != nil {
			fs.Error = f.Err.Error()
		}
		out.Failed = append(out.Failed, fs)
	}
	for _, p := range rep.Previews {
		out.Previews = append(out.Previews, Preview{Label: p.Label, TokenID: p.TokenID, DataURL: p.DataURL})
	}
	if rep.Err != nil {
		out.NotifyError = rep.Err.Error()
	}
	return out
}

// RetryRequest is the body of POST /v1/tokens/issue/retry.
type RetryRequest struct {
	BatchID   string       `json:"batch_id,omitempty"`
	EventName string       `json:"event_name"`
	Block     string       `json:"block"`
	Flat      string       `json:"flat"`
	Email     string       `json:"email,omitempty"`
	Failed    []FailedSlot `json:"failed"`
}

// FromRetryRequest converts the wire retry request.
func FromRetryRequest(in RetryRequest) (model.ResumeRequest, error) {
	var batch u.UUID
	if in.BatchID != "" {
		if err := batch.UnmarshalText([]byte(in.BatchID)); err != nil {
			return model.ResumeRequest{}, fmt.Errorf("invalid batch_id: %w", err)
		}
	}
	out := model.ResumeRequest{
		BatchID: batch,
		Event:   in.EventName,
		Block:   in.Block,
		Flat:    in.Flat,
		Email:   in.Email,
		Failed:  make([]model.FailedToken, 0, len(in.Failed)),
	}
	for _, f := range in.Failed {
		out.Failed = append(out.Failed, model.FailedToken{Day: f.Day, Seq: f.Seq, TokenID: f.TokenID})
	}
	return out, nil
}

// IssueRequestOf rebuilds the context of a retry for delivery.
func IssueRequestOf(r model.ResumeRequest) model.IssueRequest {
	return model.IssueRequest{Event: r.Event, Block: r.Block, Flat: r.Flat, Email: r.Email}
}

// --- redemption ---

// RedeemRequest is the body of POST /v1/tokens/redeem.
type RedeemRequest struct {
	Token string `json:"token"`
}

// RedeemResponse reports the redemption outcome.
type RedeemResponse struct {
	TokenID    string     `json:"token_id"`
	Status     string     `json:"status"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
}

// ToRedeemResponse converts a redemption result.
func ToRedeemResponse(id string, r model.RedeemResult) RedeemResponse {
	out := RedeemResponse{TokenID: id, Status: string(r.Status)}
	if !r.RedeemedAt.IsZero() {
		at := r.RedeemedAt
		out.RedeemedAt = &at
	}
	return out
}

// TokenResponse is the audit view of a record.
type TokenResponse struct {
	ID         string     `json:"id"`
	BatchID    string     `json:"batch_id,omitempty"`
	Event      string     `json:"event"`
	Day        string     `json:"day"`
	Block      string     `json:"block"`
	Flat       string     `json:"flat"`
	Seq        int        `json:"seq"`
	State      string     `json:"state"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// ToTokenResponse converts a stored record.
func ToTokenResponse(t model.Token) TokenResponse {
	out := TokenResponse{
		ID:         t.ID,
		Event:      t.Context.Event,
		Day:        t.Context.Day,
		Block:      t.Context.Block,
		Flat:       t.Context.Flat,
		Seq:        t.Context.Seq,
		State:      string(t.State()),
		RedeemedAt: t.RedeemedAt,
	}
	if t.BatchID != u.Nil {
		out.BatchID = t.BatchID.String()
	}
	if !t.CreatedAt.IsZero() {
		c := t.CreatedAt
		out.CreatedAt = &c
	}
	return out
}

// --- auth ---

// LoginRequest is the body of POST /v1/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the operator access token.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ToLoginResponse converts a session.
func ToLoginResponse(s model.Session) LoginResponse {
	return LoginResponse{AccessToken: s.AccessToken, ExpiresAt: s.ExpiresAt}
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}
