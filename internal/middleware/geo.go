package middleware

import (
	"context"
	"net/http"
)

// CountryLookup resolves a client IP to an ISO country code. *geoip.Resolver
// satisfies it.
type CountryLookup interface {
	Lookup(ip string) string
}

type countryKey struct{}

// Geo stores the client's country in the request context for the access
// log. A nil lookup disables it.
func Geo(lookup CountryLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if lookup == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if code := lookup.Lookup(clientIPForRateLimit(r)); code != "" {
				r = r.WithContext(context.WithValue(r.Context(), countryKey{}, code))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CountryFromContext(ctx context.Context) string {
	v, _ := ctx.Value(countryKey{}).(string)
	return v
}
