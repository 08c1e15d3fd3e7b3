package main

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/md-rashed-zaman/eventfanout/libs/auth"
	"github.com/md-rashed-zaman/eventfanout/libs/config"
	"github.com/md-rashed-zaman/eventfanout/libs/httpx"
	otelx "github.com/md-rashed-zaman/eventfanout/libs/otel"
	"github.com/md-rashed-zaman/eventfanout/libs/runtime"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "gateway-service")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	mux := runtime.NewBaseMuxWithReady()
	jwtSecret := config.String("JWT_SECRET", "dev-secret")
	jwksURL := config.String("JWKS_URL", "")
	registerRoutes(mux, jwtSecret, jwksURL, config.Duration("JWKS_CACHE_TTL", 5*time.Minute))

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, isTruthy(config.String("RATE_LIMIT_FAIL_OPEN", "true")))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,PATCH,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id")),
			AllowCredentials: isTruthy(config.String("CORS_ALLOW_CREDENTIALS", "false")),
			MaxAge:           config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 10*time.Second)),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "gateway")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func isTruthy(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func registerRoutes(mux *http.ServeMux, jwtSecret string, jwksURL string, jwksTTL time.Duration) {
	subscriptionsURL := mustParseURL(config.String("SUBSCRIPTIONS_URL", "http://subscription-service:8081"))
	paymentsURL := mustParseURL(config.String("PAYMENTS_URL", "http://payment-service:8082"))
	stockURL := mustParseURL(config.String("STOCK_URL", "http://stock-service:8083"))

	subscriptionsProxy := httputil.NewSingleHostReverseProxy(subscriptionsURL)
	paymentsProxy := httputil.NewSingleHostReverseProxy(paymentsURL)
	stockProxy := httputil.NewSingleHostReverseProxy(stockURL)
	otelTransport := otelhttp.NewTransport(http.DefaultTransport)
	subscriptionsProxy.Transport = otelTransport
	paymentsProxy.Transport = otelTransport
	stockProxy.Transport = otelTransport

	var jwksClient *auth.JWKSClient
	if jwksURL != "" {
		jwksClient = auth.NewJWKSClient(jwksURL, jwksTTL)
	}

	registerProxy(mux, "/api/v1/subscriptions", requireAuth(subscriptionsProxy, jwtSecret, jwksClient))
	registerProxy(mux, "/api/v1/payments", requireAuth(paymentsProxy, jwtSecret, jwksClient))
	registerProxy(mux, "/api/v1/stock", requireAuth(stockProxy, jwtSecret, jwksClient))

	// Dead-letter inspection is an operator surface.
	registerProxy(mux, "/dlq/subscriptions",
		requireAuth(requireRole(rewritePath(subscriptionsProxy, "/dlq"), "operator", "admin"), jwtSecret, jwksClient))
	registerProxy(mux, "/dlq/payments",
		requireAuth(requireRole(rewritePath(paymentsProxy, "/dlq"), "operator", "admin"), jwtSecret, jwksClient))
	registerProxy(mux, "/dlq/stock",
		requireAuth(requireRole(rewritePath(stockProxy, "/dlq"), "operator", "admin"), jwtSecret, jwksClient))
}

func registerProxy(mux *http.ServeMux, prefix string, handler http.Handler) {
	if !strings.HasSuffix(prefix, "/") {
		mux.Handle(prefix, handler)
		mux.Handle(prefix+"/", handler)
		return
	}
	mux.Handle(prefix, handler)
}

// rewritePath pins the upstream path regardless of the edge route the
// request arrived on.
func rewritePath(next http.Handler, path string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.URL.Path = path
		next.ServeHTTP(w, r)
	})
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

func requireAuth(next http.Handler, jwtSecret string, jwksClient *auth.JWKSClient) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
			http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		claims, err := verifyToken(token, jwtSecret, jwksClient)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		r.Header.Del("X-User-Id")
		r.Header.Del("X-Account")
		r.Header.Del("X-Role")
		r.Header.Set("X-User-Id", claims.Sub)
		r.Header.Set("X-Account", claims.Account)
		r.Header.Set("X-Role", claims.Role)
		next.ServeHTTP(w, r)
	})
}

func verifyToken(token, jwtSecret string, jwksClient *auth.JWKSClient) (*auth.Claims, error) {
	if jwksClient == nil {
		return auth.ParseAndVerifyHS256(token, jwtSecret)
	}
	header, err := auth.ParseHeader(token)
	if err != nil {
		return nil, err
	}
	if header.Alg == "RS256" && header.Kid != "" {
		pub, err := jwksClient.Get(header.Kid)
		if err != nil {
			return nil, err
		}
		return auth.VerifyRS256(token, pub)
	}
	return auth.ParseAndVerifyHS256(token, jwtSecret)
}

func requireRole(next http.Handler, roles ...string) http.Handler {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get("X-Role")
		if _, ok := allowed[role]; !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
