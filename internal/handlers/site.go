package handlers

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/auth"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/constants"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/pkg/logger"
)

const authHeaderPrefix = "X-Auth-"

// OriginProxy forwards everything the edge does not answer itself to the site
// renderer.
type OriginProxy struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
	logger *logrus.Logger
}

// NewOriginProxy creates a proxy to originURL. An empty originURL yields a proxy
// that answers 503, so the edge can run without a renderer in development.
func NewOriginProxy(originURL string, timeout time.Duration, logger *logrus.Logger) (*OriginProxy, error) {
	p := &OriginProxy{logger: logger}
	if originURL == "" {
		return p, nil
	}

	target, err := url.Parse(originURL)
	if err != nil {
		return nil, fmt.Errorf("invalid origin URL: %w", err)
	}
	p.target = target

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	p.proxy = &httputil.ReverseProxy{
		Rewrite:      p.rewrite,
		Transport:    transport,
		ErrorHandler: p.handleError,
	}
	return p, nil
}

func (p *OriginProxy) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(p.target)
	pr.SetXForwarded()
	pr.Out.Host = pr.In.Host

	// Identity headers only ever come from the edge.
	for name := range pr.Out.Header {
		if strings.HasPrefix(http.CanonicalHeaderKey(name), authHeaderPrefix) {
			pr.Out.Header.Del(name)
		}
	}

	// The transport negotiates and decodes compression itself, so the bodies the
	// page cache stores are always identity-encoded.
	pr.Out.Header.Del(constants.HeaderAcceptEncoding)

	if user, ok := auth.UserFromContext(pr.In.Context()); ok {
		pr.Out.Header.Set(constants.HeaderAuthUserID, strconv.FormatInt(user.ID, 10))
		pr.Out.Header.Set(constants.HeaderAuthUserEmail, user.Email)
		pr.Out.Header.Set(constants.HeaderAuthUserRole, string(user.Role))
	}
}

func (p *OriginProxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	logger.WithCorrelationID(r.Context(), p.logger).WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Error("Origin request failed")

	writeJSON(w, models.APIError{Error: "Bad gateway"}, http.StatusBadGateway, p.logger)
}

// ServeHTTP implements http.Handler.
func (p *OriginProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.proxy == nil {
		writeJSON(w, models.APIError{Error: "Origin not configured"}, http.StatusServiceUnavailable, p.logger)
		return
	}
	p.proxy.ServeHTTP(w, r)
}
