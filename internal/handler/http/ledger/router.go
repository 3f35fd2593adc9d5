package ledger_http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go.uber.org/zap"

	"ledger/internal/app/ledger"
	"ledger/internal/link"
)

func RegisterRoutes(r chi.Router, s ledger.Service, links link.Service, l *zap.Logger) {
	handler := NewLedgerHandler(s, links, l.With(zap.String("component", "LedgerHTTPHandler")))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Ledger service is healthy!"))
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/verify-code", handler.VerifyCodeHandler)
	})

	r.Route("/accounts", func(r chi.Router) {
		r.Get("/{number}", handler.GetAccountHandler)
	})
}
