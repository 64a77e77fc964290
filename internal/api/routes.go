package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

type Handlers struct {
	Auth        *AuthHandler
	Transcript  *TranscriptHandler
	Entitlement *EntitlementHandler
	Checkout    *CheckoutHandler
}

func SetupRoutes(h Handlers, limiter *RateLimiter, allowedOrigin string) http.Handler {
	r := mux.NewRouter()

	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errNotFound)
	})

	r.HandleFunc("/", Health).Methods("GET")

	r.HandleFunc("/auth/identity", h.Auth.Identity).Methods("POST")
	r.HandleFunc("/auth/google", h.Auth.Identity).Methods("POST")

	transcript := http.Handler(http.HandlerFunc(h.Transcript.Fetch))
	if limiter != nil {
		transcript = limiter.Middleware(transcript)
	}
	r.Handle("/api/{platform}/transcript", transcript).Methods("POST")

	r.HandleFunc("/entitlement", h.Entitlement.Get).Methods("POST")

	r.HandleFunc("/packages", h.Checkout.ListPackages).Methods("GET")
	r.HandleFunc("/checkout", h.Checkout.CreateCheckout).Methods("POST")
	r.HandleFunc("/webhook/payment", h.Checkout.HandleWebhook).Methods("POST")

	return CORSMiddleware(allowedOrigin)(r)
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "transcript-gate",
	})
}
