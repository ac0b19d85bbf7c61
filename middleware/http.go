package middleware

import (
	"context"
	"net/http"

	"github.com/voiladb/voila/internal/apierr"
)

type ctxKey struct{}

// FromHTTP maps a net/http request onto the abstract descriptor. The body
// is not read; callers that accept ids in JSON bodies populate Body
// themselves before Resolve.
func FromHTTP(r *http.Request) *Request {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	q := r.URL.Query()
	params := make(map[string]string, len(q))
	for k := range q {
		params[k] = q.Get(k)
	}
	return &Request{
		Headers:     headers,
		QueryParams: params,
		Host:        r.Host,
	}
}

// Handler wraps next so every request carries a scoped handle in its
// context. Extraction or scoping failures are written as JSON error
// responses with the error's status code.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := m.Resolve(r.Context(), FromHTTP(r))
		if err != nil {
			if e, ok := apierr.AsError(err); ok {
				e.WriteJSON(w)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithResult(r.Context(), res)))
	})
}

// WithResult stores a resolution result in the context.
func WithResult(ctx context.Context, res *Result) context.Context {
	return context.WithValue(ctx, ctxKey{}, res)
}

// FromContext returns the resolution result attached by Handler.
func FromContext(ctx context.Context) (*Result, bool) {
	res, ok := ctx.Value(ctxKey{}).(*Result)
	return res, ok
}
