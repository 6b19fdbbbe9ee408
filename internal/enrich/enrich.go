// Package enrich queries an ipinfo.io-compatible geolocation API and maps
// the response onto a record.FieldMap.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"repscan/internal/metrics"
	"repscan/internal/record"
	"repscan/internal/sanitize"
	"repscan/internal/telemetry"
)

// DefaultBaseURL is the public ipinfo.io endpoint.
const DefaultBaseURL = "https://ipinfo.io"

// Info is the API response. Every field is optional.
type Info struct {
	IP       *string `json:"ip,omitempty"`
	Hostname *string `json:"hostname,omitempty"`
	City     *string `json:"city,omitempty"`
	Region   *string `json:"region,omitempty"`
	Country  *string `json:"country,omitempty"`
	Loc      *string `json:"loc,omitempty"`
	Org      *string `json:"org,omitempty"`
	Postal   *string `json:"postal,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
	Readme   *string `json:"readme,omitempty"`
}

// Fields renames the response onto the fixed field labels, in display
// order. Absent or blank values are skipped. Readme is never mapped.
func (i Info) Fields() record.FieldMap {
	var fm record.FieldMap
	for _, f := range []struct {
		label string
		v     *string
	}{
		{"IP", i.IP},
		{"Hostname", i.Hostname},
		{"City", i.City},
		{"Region", i.Region},
		{"Country", i.Country},
		{"Location", i.Loc},
		{"Organization", i.Org},
		{"Postal Code", i.Postal},
		{"Timezone", i.Timezone},
	} {
		if f.v == nil {
			continue
		}
		if v := strings.TrimSpace(*f.v); v != "" {
			fm.Set(f.label, v)
		}
	}
	return fm
}

// Op names the stage an enrichment failed in.
type Op string

const (
	OpRequest Op = "request"
	OpStatus  Op = "status"
	OpDecode  Op = "decode"
)

// Error is an enrichment failure. It is never fatal to a lookup.
type Error struct {
	Identifier string
	Op         Op
	Status     int
	Err        error
}

func (e *Error) Error() string {
	if e.Op == OpStatus {
		return fmt.Sprintf("enrich %s: http status %d", e.Identifier, e.Status)
	}
	return fmt.Sprintf("enrich %s: %s: %v", e.Identifier, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline being hit.
func (e *Error) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// Options configures a Client.
type Options struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// Token is sent as the token query parameter when set.
	Token string

	// Timeout bounds each request. Zero means no client timeout.
	Timeout time.Duration

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

// Client calls the geolocation API.
type Client struct {
	http *resty.Client
}

// New returns a Client.
func New(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}

	var client *resty.Client
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	} else {
		client = resty.New()
	}
	client.SetBaseURL(base)
	client.SetHeader("Accept", "application/json")
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	if opts.Token != "" {
		client.SetQueryParam("token", opts.Token)
	}
	telemetry.InstrumentResty(client, "repscan/enrich")

	return &Client{http: client}
}

// Enrich looks id up and returns the mapped fields. An empty FieldMap with
// a nil error means the API knew nothing about id.
func (c *Client) Enrich(ctx context.Context, id sanitize.Identifier) (record.FieldMap, error) {
	var info Info

	start := time.Now()
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id.String()).
		SetResult(&info).
		Get("/{id}")

	var status int
	var size int64
	if res != nil {
		status = res.StatusCode()
		size = res.Size()
	}
	metrics.RecordHTTP("ipinfo", status, err, time.Since(start), size)

	if err != nil {
		op := OpRequest
		if status != 0 {
			// The response arrived but its body did not parse.
			op = OpDecode
		}
		return record.FieldMap{}, &Error{Identifier: id.String(), Op: op, Status: status, Err: err}
	}
	if res.IsError() {
		return record.FieldMap{}, &Error{Identifier: id.String(), Op: OpStatus, Status: status}
	}
	return info.Fields(), nil
}
