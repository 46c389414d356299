// Package fetch downloads the current upstream dataset for a catalog layer
// and normalizes it into a geotable.Table.
//
// Three protocols are supported: plain GeoJSON documents over HTTP, ArcGIS
// REST feature services (paged with resultOffset) and WFS 2.0 endpoints such
// as the BC Geographic Warehouse (paged with startIndex/count).
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bcgov/geodiff/geotable"
	"github.com/bcgov/geodiff/retry"
	"github.com/bcgov/geodiff/sourcecfg"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultPageSize is the number of features requested per page from paging
// protocols.
const DefaultPageSize = 1000

// UpstreamError is a fetch that failed or returned a dataset the layer
// configuration cannot be applied to.
type UpstreamError struct {
	Layer string
	URL   string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("error fetching layer %q from %s: %s", e.Layer, e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Client fetches layer datasets from their upstream sources.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retry.Settings
	pageSize   int
	logger     zerolog.Logger
}

// Opt customizes a Client.
type Opt func(*Client)

func WithHTTPClient(hc *http.Client) Opt {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithPageSize(n int) Opt {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRequestsPerSecond caps the request rate across all pages and layers
// fetched through the client.
func WithRequestsPerSecond(n int) Opt {
	return func(c *Client) {
		limit := rate.Inf
		if n > 0 {
			limit = rate.Limit(n)
		}
		c.limiter = rate.NewLimiter(limit, 1)
	}
}

func WithRetrySettings(s retry.Settings) Opt {
	return func(c *Client) {
		c.retry = s
	}
}

func WithLogger(logger zerolog.Logger) Opt {
	return func(c *Client) {
		c.logger = logger
	}
}

func defaultRetrySettings() retry.Settings {
	return retry.Settings{
		InitialBackoff: 500 * time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     8 * time.Second,
		MaxRetries:     4,
	}
}

func NewClient(opts ...Opt) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: time.Minute},
		retry:      defaultRetrySettings(),
		pageSize:   DefaultPageSize,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads the layer's current dataset, checks it against the layer
// configuration and projects it down to the declared fields. Failures of the
// upstream itself are returned as *UpstreamError.
func (c *Client) Fetch(ctx context.Context, l sourcecfg.Layer) (*geotable.Table, error) {
	var doc []byte
	var err error
	switch l.Protocol {
	case sourcecfg.ProtocolHTTP:
		doc, err = c.get(ctx, l.Source)
	case sourcecfg.ProtocolESRI:
		doc, err = c.fetchPaged(ctx, l, func(offset int) (string, error) {
			return esriPageURL(l, offset, c.pageSize)
		})
	case sourcecfg.ProtocolBCGW:
		doc, err = c.fetchPaged(ctx, l, func(offset int) (string, error) {
			return wfsPageURL(l, offset, c.pageSize)
		})
	default:
		return nil, errors.Newf("layer %s: unknown protocol %q", l.OutLayer, l.Protocol)
	}
	if err != nil {
		return nil, &UpstreamError{Layer: l.OutLayer, URL: l.Source, Err: err}
	}

	tbl, err := geotable.ParseGeoJSON(doc, l.OutLayer)
	if err != nil {
		return nil, &UpstreamError{Layer: l.OutLayer, URL: l.Source, Err: err}
	}
	if len(tbl.Rows) == 0 {
		return nil, &UpstreamError{
			Layer: l.OutLayer,
			URL:   l.Source,
			Err:   errors.New("no features returned"),
		}
	}
	var missing []string
	for _, f := range l.Fields {
		if _, ok := tbl.ColumnIndex(f); !ok {
			missing = append(missing, strings.ToLower(f))
		}
	}
	if len(missing) > 0 {
		return nil, &UpstreamError{
			Layer: l.OutLayer,
			URL:   l.Source,
			Err:   errors.Newf("declared fields missing from response: %s", strings.Join(missing, ", ")),
		}
	}
	proj, err := tbl.Project(l.Fields)
	if err != nil {
		return nil, &UpstreamError{Layer: l.OutLayer, URL: l.Source, Err: err}
	}
	c.logger.Debug().
		Str("layer", l.OutLayer).
		Int("rows", len(proj.Rows)).
		Str("crs", proj.CRS).
		Msgf("fetched layer")
	return proj, nil
}

// wireCollection is the subset of a GeoJSON FeatureCollection the pager needs
// to see. Features stay raw so merged pages are parsed exactly once.
type wireCollection struct {
	Type                  string            `json:"type"`
	Features              []json.RawMessage `json:"features"`
	CRS                   json.RawMessage   `json:"crs,omitempty"`
	ExceededTransferLimit bool              `json:"exceededTransferLimit,omitempty"`
}

// fetchPaged pulls pages until the upstream reports no more features. A page
// shorter than the requested size ends the scan unless the server flags that
// it capped the transfer below our page size.
func (c *Client) fetchPaged(
	ctx context.Context, l sourcecfg.Layer, pageURL func(offset int) (string, error),
) ([]byte, error) {
	merged := wireCollection{Type: "FeatureCollection", Features: []json.RawMessage{}}
	for offset := 0; ; {
		u, err := pageURL(offset)
		if err != nil {
			return nil, err
		}
		body, err := c.get(ctx, u)
		if err != nil {
			return nil, err
		}
		var page wireCollection
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, errors.Wrap(err, "error decoding feature collection page")
		}
		if page.Type != "FeatureCollection" {
			return nil, errors.Newf("expected a FeatureCollection, got %q", page.Type)
		}
		if offset == 0 {
			merged.CRS = page.CRS
		}
		merged.Features = append(merged.Features, page.Features...)
		c.logger.Debug().
			Str("layer", l.OutLayer).
			Int("offset", offset).
			Int("features", len(page.Features)).
			Msgf("fetched page")
		if len(page.Features) == 0 || (len(page.Features) < c.pageSize && !page.ExceededTransferLimit) {
			break
		}
		offset += len(page.Features)
	}
	return json.Marshal(merged)
}

// get issues one GET, retrying transport failures and retryable statuses
// (429 and 5xx) on the client's backoff schedule. Other non-200 statuses
// fail immediately.
func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	var body []byte
	var permErr error
	err := retry.Do(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			permErr = err
			return nil
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		switch {
		case resp.StatusCode == http.StatusOK:
			body, err = io.ReadAll(resp.Body)
			return err
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return errors.Newf("upstream returned status %s", resp.Status)
		default:
			permErr = errors.Newf("upstream returned status %s", resp.Status)
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return body, permErr
}

func esriPageURL(l sourcecfg.Layer, offset int, pageSize int) (string, error) {
	u, err := url.Parse(l.Source)
	if err != nil {
		return "", errors.Wrapf(err, "error parsing source url %q", l.Source)
	}
	base := strings.TrimSuffix(u.Path, "/")
	if l.SourceLayer != "" {
		base += "/" + l.SourceLayer
	}
	u.Path = base + "/query"
	where := l.Query
	if where == "" {
		where = "1=1"
	}
	q := u.Query()
	q.Set("where", where)
	q.Set("outFields", "*")
	q.Set("returnGeometry", "true")
	q.Set("f", "geojson")
	q.Set("resultOffset", strconv.Itoa(offset))
	q.Set("resultRecordCount", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func wfsPageURL(l sourcecfg.Layer, offset int, pageSize int) (string, error) {
	u, err := url.Parse(l.Source)
	if err != nil {
		return "", errors.Wrapf(err, "error parsing source url %q", l.Source)
	}
	q := u.Query()
	q.Set("service", "WFS")
	q.Set("version", "2.0.0")
	q.Set("request", "GetFeature")
	q.Set("typeNames", l.SourceLayer)
	q.Set("outputFormat", "json")
	q.Set("count", strconv.Itoa(pageSize))
	q.Set("startIndex", strconv.Itoa(offset))
	if l.Query != "" {
		q.Set("CQL_FILTER", l.Query)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
