package routes

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"vaultlend/gateway/middleware"
)

// Config wires the gateway route table. Lending mounts the typed REST
// bridge under /v1/lending; NodeTarget, when set, additionally exposes the
// node's raw JSON-RPC endpoint at /rpc. The node applies its own bearer
// token checks to proxied RPC calls, so /rpc is rate limited but not
// JWT-guarded.
type Config struct {
	Lending       *LendingRoutes
	NodeTarget    *url.URL
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

func New(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.RequestID)

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.NodeTarget != nil {
		rpcHandler := NewProxy(cfg.NodeTarget, "/rpc", cfg.Logger)
		if cfg.RateLimiter != nil {
			rpcHandler = cfg.RateLimiter.Middleware("rpc")(rpcHandler)
		}
		r.Handle("/rpc", rpcHandler)
	}

	if cfg.Lending != nil {
		r.Route("/v1/lending", func(sr chi.Router) {
			if cfg.RateLimiter != nil {
				sr.Use(cfg.RateLimiter.Middleware("lending"))
			}
			if cfg.Authenticator != nil {
				sr.Use(cfg.Authenticator.Middleware("lending"))
			}
			if obs != nil {
				sr.Use(obs.Middleware("lending"))
			}
			cfg.Lending.Mount(sr)
		})
	}

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r
}
