package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/foodtoken/internal/convert"
	"github.com/and161185/foodtoken/internal/model"
)

// apiError is a non-2xx answer that carries no domain payload.
type apiError struct {
	Status int
	Msg    string
}

func (e *apiError) Error() string { return fmt.Sprintf("%d %s", e.Status, e.Msg) }

// client talks to the ft-server HTTP API.
type client struct {
	base   string
	bearer string
	hc     *http.Client
}

// newClient bounds every request, body included, by timeout.
func newClient(base, bearer string, timeout time.Duration) *client {
	return &client{
		base:   strings.TrimRight(base, "/"),
		bearer: bearer,
		hc:     &http.Client{Timeout: timeout},
	}
}

// do sends in as JSON and decodes the body into out when the status is one of accept.
func (c *client) do(ctx context.Context, method, path string, in, out any, accept ...int) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	for _, code := range accept {
		if resp.StatusCode == code {
			if out == nil {
				return code, nil
			}
			return code, json.Unmarshal(raw, out)
		}
	}
	var er convert.ErrorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error != "" {
		return resp.StatusCode, &apiError{Status: resp.StatusCode, Msg: er.Error}
	}
	return resp.StatusCode, &apiError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(raw))}
}

func (c *client) login(ctx context.Context, username, password string) (convert.LoginResponse, error) {
	var out convert.LoginResponse
	_, err := c.do(ctx, http.MethodPost, "/v1/login", convert.LoginRequest{Username: username, Password: password}, &out, http.StatusOK)
	return out, err
}

// issue returns the response for 201, 207 and for 500 answers that still carry a partial result.
func (c *client) issue(ctx context.Context, req convert.IssueRequest) (convert.IssueResponse, int, error) {
	var out convert.IssueResponse
	code, err := c.do(ctx, http.MethodPost, "/v1/tokens/issue", req, &out,
		http.StatusCreated, http.StatusMultiStatus, http.StatusInternalServerError)
	if err == nil && out.Error != "" {
		err = errors.New(out.Error)
	}
	return out, code, err
}

func (c *client) redeem(ctx context.Context, token string) (convert.RedeemResponse, error) {
	var out convert.RedeemResponse
	_, err := c.do(ctx, http.MethodPost, "/v1/tokens/redeem", convert.RedeemRequest{Token: token}, &out,
		http.StatusOK, http.StatusConflict, http.StatusNotFound)
	return out, err
}

func (c *client) show(ctx context.Context, id string) (convert.TokenResponse, error) {
	var out convert.TokenResponse
	_, err := c.do(ctx, http.MethodGet, "/v1/audit/"+url.PathEscape(id), nil, &out, http.StatusOK)
	return out, err
}

// ------- helpers -------

// parseDays reads repeated "DAY=COUNT" values, keeping order.
func parseDays(vals []string) (convert.DayCounts, error) {
	out := make(convert.DayCounts, 0, len(vals))
	for _, v := range vals {
		day, n, ok := strings.Cut(v, "=")
		day = strings.TrimSpace(day)
		if !ok || day == "" {
			return nil, fmt.Errorf("bad --day %q, want DAY=COUNT", v)
		}
		count, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil || count < 0 {
			return nil, fmt.Errorf("bad count in --day %q", v)
		}
		out = append(out, model.DayCount{Day: day, Count: count})
	}
	return out, nil
}

// writePreviews saves data-url previews as <token_id>.png under dir.
func writePreviews(dir string, ps []convert.Preview) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var files []string
	for _, p := range ps {
		raw, ok := strings.CutPrefix(p.DataURL, "data:image/png;base64,")
		if !ok {
			return files, fmt.Errorf("preview %s: unexpected data url", p.TokenID)
		}
		png, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return files, fmt.Errorf("preview %s: %w", p.TokenID, err)
		}
		name := filepath.Join(dir, filepath.Base(p.TokenID)+".png")
		if err := os.WriteFile(name, png, 0o644); err != nil {
			return files, err
		}
		files = append(files, name)
	}
	return files, nil
}
