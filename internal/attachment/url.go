package attachment

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/soyeahso/tally/internal/domain"
	"github.com/soyeahso/tally/internal/logging"
	"github.com/soyeahso/tally/internal/version"
)

// DefaultMaxBytes caps a single download when no limit is configured.
const DefaultMaxBytes = 10 << 20

// errBlockedAddress is returned when a download resolves to an address
// outside the public internet.
var errBlockedAddress = errors.New("address is not publicly routable")

// sharedAddressSpace is the carrier-grade NAT range (RFC 6598).
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// URLFetcher downloads http(s) URLs and decodes data: URLs.
type URLFetcher struct {
	client       *http.Client
	maxBytes     int64
	allowPrivate bool
	log          *logging.Logger
}

// URLOption configures a URLFetcher.
type URLOption func(*URLFetcher)

// AllowPrivateNetworks lets the default client connect to loopback,
// private and link-local addresses.
func AllowPrivateNetworks(allow bool) URLOption {
	return func(f *URLFetcher) { f.allowPrivate = allow }
}

// NewURLFetcher creates a fetcher. A nil client gets a default one that
// only dials public addresses unless AllowPrivateNetworks is set.
// maxBytes <= 0 means DefaultMaxBytes.
func NewURLFetcher(client *http.Client, maxBytes int64, log *logging.Logger, opts ...URLOption) *URLFetcher {
	f := &URLFetcher{
		client:   client,
		maxBytes: maxBytes,
		log:      log.Sub("attachment"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = defaultClient(f.allowPrivate)
	}
	if f.maxBytes <= 0 {
		f.maxBytes = DefaultMaxBytes
	}
	return f
}

func defaultClient(allowPrivate bool) *http.Client {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	if !allowPrivate {
		// Control runs after DNS resolution, so redirects and rebinding
		// are checked against the address actually dialed.
		dialer.Control = dialPublicOnly
	}
	return &http.Client{
		Timeout: 2 * time.Minute,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}

func dialPublicOnly(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", errBlockedAddress, address)
	}
	if !isPublicAddr(ap.Addr()) {
		return fmt.Errorf("%w: %s", errBlockedAddress, ap.Addr())
	}
	return nil
}

// isPublicAddr reports whether a is a global unicast address outside the
// private and shared ranges.
func isPublicAddr(a netip.Addr) bool {
	a = a.Unmap()
	return a.IsGlobalUnicast() && !a.IsPrivate() && !sharedAddressSpace.Contains(a)
}

// Fetch downloads att.URL.
func (f *URLFetcher) Fetch(ctx context.Context, att domain.Attachment) (*Blob, error) {
	r := ref(att)
	if att.URL == "" {
		return nil, &Error{Kind: NotFound, Ref: r, Err: errors.New("attachment has no URL")}
	}
	if strings.HasPrefix(att.URL, "data:") {
		return f.decodeDataURL(att, r)
	}

	u, err := url.Parse(att.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &Error{Kind: NotFound, Ref: r, Err: fmt.Errorf("unsupported URL %q", r)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, &Error{Kind: TransportFailure, Ref: r, Err: err}
	}
	req.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		// url.Error repeats the full URL, which may carry credentials.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		if errors.Is(err, errBlockedAddress) {
			return nil, &Error{Kind: NotFound, Ref: r, Err: err}
		}
		return nil, wrap(ctx, r, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return nil, &Error{Kind: NotFound, Ref: r, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &Error{Kind: TransportFailure, Ref: r, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	data, err := f.readLimited(resp.Body)
	if err != nil {
		return nil, wrap(ctx, r, err)
	}

	mt := att.MimeType
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil && parsed != "application/octet-stream" {
			mt = parsed
		}
	}
	if mt == "" {
		mt = http.DetectContentType(data)
	}

	f.log.Debug().
		Str("ref", r).
		Int("bytes", len(data)).
		Str("mime", mt).
		Dur("elapsed", time.Since(start)).
		Msg("attachment downloaded")

	blob := NewBlob(data, mt, nil)
	blob.Filename = att.Filename
	if base := path.Base(u.Path); blob.Filename == "" && base != "." && base != "/" {
		blob.Filename = base
	}
	return blob, nil
}

func (f *URLFetcher) readLimited(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if n > f.maxBytes {
		return nil, fmt.Errorf("attachment larger than %d bytes", f.maxBytes)
	}
	return buf.Bytes(), nil
}

// decodeDataURL handles data:[<mediatype>][;base64],<data>.
func (f *URLFetcher) decodeDataURL(att domain.Attachment, r string) (*Blob, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(att.URL, "data:"), ",")
	if !ok {
		return nil, &Error{Kind: NotFound, Ref: r, Err: errors.New("malformed data URL")}
	}

	isBase64 := strings.HasSuffix(meta, ";base64")
	mt := strings.TrimSuffix(meta, ";base64")
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}

	var data []byte
	if isBase64 {
		if int64(base64.StdEncoding.DecodedLen(len(payload))) > f.maxBytes+2 {
			return nil, &Error{Kind: TransportFailure, Ref: r, Err: fmt.Errorf("attachment larger than %d bytes", f.maxBytes)}
		}
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, &Error{Kind: NotFound, Ref: r, Err: fmt.Errorf("decode data URL: %w", err)}
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, &Error{Kind: NotFound, Ref: r, Err: fmt.Errorf("decode data URL: %w", err)}
		}
		data = []byte(unescaped)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &Error{Kind: TransportFailure, Ref: r, Err: fmt.Errorf("attachment larger than %d bytes", f.maxBytes)}
	}

	if mt == "" {
		mt = att.MimeType
	}
	if mt == "" {
		mt = http.DetectContentType(data)
	}

	blob := NewBlob(data, mt, nil)
	blob.Filename = att.Filename
	return blob, nil
}
