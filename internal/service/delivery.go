package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/foodtoken/internal/metrics"
	"github.com/and161185/foodtoken/internal/model"
	"github.com/and161185/foodtoken/internal/notify"
)

// Encoder renders a token id as a PNG image.
type Encoder interface {
	Encode(content string) ([]byte, error)
}

// Preview is a rendered token returned to the requester.
type Preview struct {
	Label   string
	TokenID string
	DataURL string
}

// DeliveryReport describes what happened after issuance. Err never undoes issuance.
type DeliveryReport struct {
	Previews []Preview
	Notified bool
	Err      error
}

// DeliveryService renders created tokens and sends them to the organiser and the resident.
type DeliveryService struct {
	enc       Encoder
	notifier  notify.Notifier
	organiser string
	payee     Payee
	log       *zap.Logger
	met       *metrics.Metrics
}

// Payee receives contributions. With a VPA set, the organiser mail carries a
// upi://pay link prefilled with the total and payment note.
type Payee struct {
	VPA      string // UPI id, e.g. events@okaxis
	Name     string
	Currency string // ISO 4217, INR when empty
}

// NewDeliveryService constructs DeliveryService. organiser may be empty.
func NewDeliveryService(enc Encoder, n notify.Notifier, organiser string, log *zap.Logger, met *metrics.Metrics) *DeliveryService {
	return &DeliveryService{enc: enc, notifier: n, organiser: organiser, log: log, met: met}
}

// WithPayee sets who contributions are paid to.
func (d *DeliveryService) WithPayee(p Payee) *DeliveryService {
	if p.Currency == "" {
		p.Currency = "INR"
	}
	d.payee = p
	return d
}

// UPILink builds the upi://pay deep link for c, or "" without a VPA or amount.
func UPILink(p Payee, c model.Contribution) string {
	total := c.Total()
	if p.VPA == "" || total <= 0 {
		return ""
	}
	cur := p.Currency
	if cur == "" {
		cur = "INR"
	}
	q := "pa=" + escapeComponent(p.VPA)
	if p.Name != "" {
		q += "&pn=" + escapeComponent(p.Name)
	}
	q += "&am=" + formatAmount(total) + "&cu=" + cur
	if c.PaymentNote != "" {
		q += "&tn=" + escapeComponent(c.PaymentNote)
	}
	return "upi://pay?" + q
}

// escapeComponent percent-encodes spaces as %20, as payment apps expect.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func formatAmount(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func money(cur string, v float64) string {
	if cur == "" || cur == "INR" {
		return "₹" + formatAmount(v)
	}
	return cur + " " + formatAmount(v)
}

var summaryTmpl = template.Must(template.New("summary").Parse(`<p>Dear Organiser and Contributor,</p>
<p>A new booking has been submitted for <strong>{{.Event}}</strong>.</p>
<p><strong>Resident:</strong> {{.Block}}-{{.Flat}}{{if .Email}} | {{.Email}}{{end}}</p>
<hr/>
<h3>Tokens (day-wise)</h3>
{{range .Days}}<h4>Day {{.Day}}</h4><p>Number of tokens: {{len .Tokens}}</p><ul>
{{range .Tokens}}<li>Day{{.Day}} token {{.Seq}} - {{.ID}}{{if .CID}}<br/><img src="cid:{{.CID}}" width="120" style="display:block; margin:6px 0;">{{end}}</li>
{{end}}</ul>
{{end}}{{if .Failed}}<p>{{.Failed}} token(s) could not be issued and will be retried.</p>
{{end}}{{with .Pay}}<hr/>
<h3>Contribution</h3>
<p><strong>Donation:</strong> {{.Base}} (base) + {{.Extra}} (extra) = {{.Donation}}</p>
<p><strong>Total (including tokens):</strong> {{.Total}}</p>
{{if .Note}}<p><strong>Payment note to match:</strong><br/><code>{{.Note}}</code></p>
{{end}}{{if .Link}}<p><strong>UPI payment link:</strong><br/><a href="{{.Link}}" target="_blank">{{.Link}}</a></p>
{{end}}{{end}}<hr/>
<p>Please verify the contribution against the payment note and forward the token images to the resident.</p>
`))

type summaryPay struct {
	Base, Extra, Donation, Total string
	Note                         string
	Link                         template.URL
}

type summaryToken struct {
	Day string
	Seq int
	ID  string
	CID template.URL
}

type summaryDay struct {
	Day    string
	Tokens []summaryToken
}

type summary struct {
	Event, Block, Flat, Email string
	Days                      []summaryDay
	Failed                    int
	Pay                       *summaryPay
}

// Deliver renders one image per created token and sends the summary.
// An image that fails to render is left out of the message and the previews.
func (d *DeliveryService) Deliver(ctx context.Context, req model.IssueRequest, res model.IssueResult) DeliveryReport {
	var rep DeliveryReport
	if len(res.Tokens) == 0 {
		return rep
	}

	sum := summary{Event: req.Event, Block: req.Block, Flat: req.Flat, Email: req.Email, Failed: len(res.Failed)}
	if c := req.Contribution; c != nil {
		cur := d.payee.Currency
		sum.Pay = &summaryPay{
			Base:     money(cur, c.BaseDonation),
			Extra:    money(cur, c.ExtraDonation),
			Donation: money(cur, c.Donation()),
			Total:    money(cur, c.Total()),
			Note:     c.PaymentNote,
			// built from escaped components only
			Link: template.URL(UPILink(d.payee, *c)),
		}
	}
	var atts []notify.Attachment
	dayIdx := map[string]int{}
	for _, t := range res.Tokens {
		day, seq := t.Context.Day, t.Context.Seq
		st := summaryToken{Day: day, Seq: seq, ID: t.ID}

		png, err := d.enc.Encode(t.ID)
		if err != nil {
			d.log.Warn("render token", zap.String("token_id", t.ID), zap.Error(err))
		} else {
			name := fmt.Sprintf("Day%s_token_%d.png", day, seq)
			inline := "inline-" + name
			st.CID = template.URL(inline)
			atts = append(atts,
				notify.Attachment{Name: name, Data: png},
				notify.Attachment{Name: inline, Data: png, Inline: true},
			)
			rep.Previews = append(rep.Previews, Preview{
				Label:   fmt.Sprintf("Day %s - Token %d", day, seq),
				TokenID: t.ID,
				DataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
			})
		}

		i, ok := dayIdx[day]
		if !ok {
			i = len(sum.Days)
			dayIdx[day] = i
			sum.Days = append(sum.Days, summaryDay{Day: day})
		}
		sum.Days[i].Tokens = append(sum.Days[i].Tokens, st)
	}

	var to []string
	if d.organiser != "" {
		to = append(to, d.organiser)
	}
	if req.Email != "" && req.Email != d.organiser {
		to = append(to, req.Email)
	}
	if len(to) == 0 {
		return rep
	}

	var body bytes.Buffer
	if err := summaryTmpl.Execute(&body, sum); err != nil {
		rep.Err = fmt.Errorf("render summary: %w", err)
		d.met.Notification(false)
		return rep
	}
	msg := notify.Message{
		To:          to,
		Subject:     fmt.Sprintf("Thank you %s-%s for your contribution to %s", req.Block, req.Flat, req.Event),
		HTML:        body.String(),
		Attachments: atts,
	}
	if err := d.notifier.Notify(ctx, msg); err != nil {
		d.log.Warn("notify failed", zap.String("batch_id", res.BatchID.String()), zap.Error(err))
		rep.Err = err
		d.met.Notification(false)
		return rep
	}
	rep.Notified = true
	d.met.Notification(true)
	return rep
}
