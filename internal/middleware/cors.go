package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS allows browser calls from the listed origins. An empty list disables
// cross-origin access; "*" allows any origin without credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowCredentials := true
	for _, o := range allowedOrigins {
		if o == "*" {
			allowCredentials = false
		}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: allowCredentials,
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		ExposedHeaders: []string{
			"X-Request-ID",
			"X-Generation-Seed",
			"X-Generation-Cost-USD",
			"X-Generation-Engine",
			"X-Generation-Frames",
			"X-Generation-FPS",
		},
		MaxAge: 600,
	})
	return c.Handler
}
