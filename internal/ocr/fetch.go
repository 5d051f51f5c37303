package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"syscall"
	"time"
)

// ErrBlockedAddress is returned when an image host resolves to an address
// that is not public unicast (loopback, private, link-local, shared).
var ErrBlockedAddress = errors.New("ocr: image host is not a public address")

var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

var defaultClient = PublicClient(30 * time.Second)

// PublicClient returns an HTTP client that only connects to public unicast
// addresses. The check runs on every dial, so redirects and DNS answers are
// held to it as well. Proxies are not used.
func PublicClient(timeout time.Duration) *http.Client {
	d := &net.Dialer{Timeout: 10 * time.Second, Control: publicOnly}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = nil
	tr.DialContext = d.DialContext
	return &http.Client{Transport: tr, Timeout: timeout}
}

func publicOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	ip = ip.Unmap()
	if !ip.IsGlobalUnicast() || ip.IsPrivate() || sharedAddressSpace.Contains(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
	}
	return nil
}

// Fetcher loads image bytes from an http(s) URL or a local path. A nil
// Client means PublicClient.
type Fetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// Fetch reads at most MaxBytes; larger images are rejected as too large.
func (f Fetcher) Fetch(ctx context.Context, src string) ([]byte, error) {
	limit := f.MaxBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	var r io.ReadCloser
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, fmt.Errorf("ocr: build request: %w", err)
		}
		client := f.Client
		if client == nil {
			client = defaultClient
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("ocr: fetch image: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("ocr: fetch image: status %d", resp.StatusCode)
		}
		r = resp.Body
	} else {
		file, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("ocr: open image: %w", err)
		}
		r = file
	}
	defer r.Close()

	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("ocr: read image: %w", err)
	}
	if int64(len(b)) > limit {
		return nil, &QualityError{Reason: "too_many_bytes", Value: float64(limit)}
	}
	return b, nil
}
