package middleware

import (
	"bytes"
	"net/http"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/cache"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/pkg/logger"
)

// PageCache serves GET requests for cacheable paths from the page cache and
// stores rendered HTML pages on a miss. Uncacheable paths never reach the store.
func (m *Stack) PageCache(next http.Handler) http.Handler {
	if m.pages == nil || !m.config.Cache.Enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !m.pages.ShouldCachePath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		log := logger.WithCorrelationID(ctx, m.logger).WithField("path", r.URL.Path)

		if cached := m.pages.GetCachedResponse(ctx, r); cached != nil {
			if err := cached.WriteTo(w); err != nil {
				log.WithError(err).Debug("Failed to write cached page")
			}
			return
		}

		rec := newPageRecorder(w)
		next.ServeHTTP(rec, r)
		rec.finish()

		if !rec.buffering {
			return
		}

		out := m.pages.CacheResponse(ctx, r, rec.response())
		if err := out.WriteTo(w); err != nil {
			log.WithError(err).Debug("Failed to write page")
		}
	})
}

// pageRecorder buffers a 200 HTML response so it can be cached, and streams
// everything else straight to the client. The decision is made when the status
// is written.
type pageRecorder struct {
	w           http.ResponseWriter
	header      http.Header
	status      int
	wroteHeader bool
	buffering   bool
	body        bytes.Buffer
}

func newPageRecorder(w http.ResponseWriter) *pageRecorder {
	return &pageRecorder{w: w, header: make(http.Header)}
}

func (p *pageRecorder) Header() http.Header {
	if p.wroteHeader && !p.buffering {
		return p.w.Header()
	}
	return p.header
}

func (p *pageRecorder) WriteHeader(code int) {
	if p.wroteHeader {
		return
	}
	p.wroteHeader = true
	p.status = code

	if code == http.StatusOK && cache.IsHTML(p.header) {
		p.buffering = true
		return
	}

	dst := p.w.Header()
	for key, values := range p.header {
		dst[key] = values
	}
	p.w.WriteHeader(code)
}

func (p *pageRecorder) Write(b []byte) (int, error) {
	if !p.wroteHeader {
		p.WriteHeader(http.StatusOK)
	}
	if p.buffering {
		return p.body.Write(b)
	}
	return p.w.Write(b)
}

func (p *pageRecorder) Flush() {
	if p.buffering {
		return
	}
	if f, ok := p.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (p *pageRecorder) Unwrap() http.ResponseWriter {
	return p.w
}

// finish settles a handler that returned without writing anything.
func (p *pageRecorder) finish() {
	if !p.wroteHeader {
		p.WriteHeader(http.StatusOK)
	}
}

func (p *pageRecorder) response() *cache.Response {
	return &cache.Response{
		StatusCode: p.status,
		Header:     p.header,
		Body:       p.body.Bytes(),
	}
}
