package service

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

var ErrForbiddenImageURL = errors.New("image url is not allowed")

// carrier-grade NAT space; netip has no predicate for it.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// NewImageFetchClient returns the client the archiver uses for remote
// images. Unless allowPrivate is set, connections to loopback, link-local,
// private and other internal addresses are refused at dial time, which also
// covers redirects and DNS names that resolve inward.
func NewImageFetchClient(timeout time.Duration, allowPrivate bool) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if !allowPrivate {
		dialer.Control = refuseInternalDial
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("stopped after 5 redirects")
			}
			return checkImageURL(req.URL, allowPrivate)
		},
	}
}

func refuseInternalDial(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: unresolved dial address %q", ErrForbiddenImageURL, host)
	}
	if internalAddr(addr) {
		return fmt.Errorf("%w: %s is an internal address", ErrForbiddenImageURL, addr)
	}
	return nil
}

// checkImageURL rejects anything but http(s) and, unless allowPrivate is
// set, hosts that are literally internal. Names are checked again at dial.
func checkImageURL(u *url.URL, allowPrivate bool) error {
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("%w: scheme %q", ErrForbiddenImageURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrForbiddenImageURL)
	}
	if allowPrivate {
		return nil
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("%w: %s", ErrForbiddenImageURL, host)
	}
	if addr, err := netip.ParseAddr(host); err == nil && internalAddr(addr) {
		return fmt.Errorf("%w: %s is an internal address", ErrForbiddenImageURL, addr)
	}
	return nil
}

func internalAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() ||
		sharedAddressSpace.Contains(addr)
}
