package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	jwttoken "libsync/internal/jwt_token"
	"libsync/internal/library/handler"
	"libsync/internal/platform/httpserver"
)

func newServeCommand(a *app) *cobra.Command {
	var memory bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the operations API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if a.cfg.UsesDevSigningKey() {
				a.logger.WarnContext(ctx, "using the development JWT signing key, set LIBSYNC_JWT_SIGNING_KEY")
			}

			d, err := a.buildDeps(ctx, memory)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			jwtService := jwttoken.NewJWTService(a.cfg.JWT.SigningKey, a.cfg.JWT.Issuer)
			opts := []handler.Option{
				handler.WithLogger(a.logger),
				handler.WithMaxUploadBytes(a.cfg.Server.MaxUploadBytes),
				handler.WithSyncTimeout(a.cfg.Sync.LockTTL),
			}
			if d.pools != nil {
				opts = append(opts, handler.WithHealthCheck("postgres", d.pools.Health))
			}
			if d.redis != nil {
				opts = append(opts, handler.WithHealthCheck("redis", d.redis.Health))
			}
			if d.kafka != nil {
				opts = append(opts, handler.WithHealthCheck("kafka", func(ctx context.Context) error {
					return d.kafka.Ping(ctx)
				}))
			}
			h := handler.New(d.store, d.orchestrator, d.purger, jwttoken.NewJWTServiceAdapter(jwtService), opts...)

			router := chi.NewRouter()
			h.Register(router)
			srv := httpserver.New(a.cfg.Server, router)
			return httpserver.Run(ctx, srv, a.cfg.Server.ShutdownTimeout, a.logger)
		},
	}

	cmd.Flags().String("addr", a.v.GetString("http.addr"), "listen address")
	bindFlag(a.v, "http.addr", cmd, "addr")
	cmd.Flags().BoolVar(&memory, "memory", false, "serve an in-memory store")
	return cmd
}
