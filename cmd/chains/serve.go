package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/favbox/eino-chains/server"
	"github.com/favbox/eino-chains/transport/natsrpc"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve pipelines over HTTP",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, _ *cobra.Command, a *app, _ []string) error {
			sc := a.cfg.Server
			if addr != "" {
				sc.Addr = addr
			}
			srv := server.New(a.registry, server.Config{
				Addr:      sc.Addr,
				JWTSecret: sc.JWTSecret,
				Timeout:   sc.Timeout,
				Handlers:  a.handlers,
				Logger:    a.logger,
			})
			a.logger.Info("http server starting",
				zap.String("addr", sc.Addr),
				zap.Bool("auth", sc.JWTSecret != ""),
				zap.Int("pipelines", len(a.registry.List())))
			return srv.Run(ctx)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

func newNATSCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nats",
		Short: "Serve pipelines as NATS request/reply endpoints",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, _ *cobra.Command, a *app, _ []string) error {
			nc, err := natsrpc.Connect(ctx, natsrpc.ConnectConfig{
				URL:    a.cfg.NATS.URL,
				Name:   "chains",
				Logger: a.logger,
			})
			if err != nil {
				return err
			}
			defer nc.Close()

			svc := natsrpc.NewService(nc, a.registry, natsrpc.Config{
				Subject:  a.cfg.NATS.Subject,
				Queue:    a.cfg.NATS.Queue,
				Timeout:  a.cfg.Server.Timeout,
				Handlers: a.handlers,
				Logger:   a.logger,
			})
			if err := svc.Start(); err != nil {
				return err
			}
			a.logger.Info("nats service started",
				zap.String("url", a.cfg.NATS.URL),
				zap.String("subject", a.cfg.NATS.Subject+".*"))

			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return svc.Stop(stopCtx)
		}),
	}
	cmd.AddCommand(newNATSCallCmd(opts))
	return cmd
}

// newNATSCallCmd 作为客户端请求一个正在运行的 nats 服务。
func newNATSCallCmd(opts *rootOptions) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "call <pipeline>",
		Short: "Invoke a pipeline through a running NATS service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			var in any
			if input != "" {
				if err := sonic.UnmarshalString(input, &in); err != nil {
					return fmt.Errorf("--input is not valid JSON: %w", err)
				}
			}

			ctx := cmd.Context()
			if cfg.Server.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Server.Timeout)
				defer cancel()
			}
			nc, err := natsrpc.Connect(ctx, natsrpc.ConnectConfig{URL: cfg.NATS.URL, Name: "chains-cli"})
			if err != nil {
				return err
			}
			defer nc.Close()

			out, err := natsrpc.Invoke(ctx, nc, cfg.NATS.Subject, args[0], in)
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "pipeline input as JSON")
	return cmd
}
