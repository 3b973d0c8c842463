package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/favbox/eino-chains/compose"
	"github.com/favbox/eino-chains/schema"
)

// withApp 构建依赖，在收到 SIGINT/SIGTERM 时取消 ctx，结束后释放资源。
func withApp(opts *rootOptions, fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(
	*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, opts)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.close(context.Background()); err != nil {
				a.logger.Warn("release resources", zap.Error(err))
			}
		}()
		return fn(ctx, cmd, a, args)
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered pipelines",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(_ context.Context, cmd *cobra.Command, a *app, _ []string) error {
			for _, e := range a.registry.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %-7s %s\n", e.Name, e.Input, e.Description)
			}
			return nil
		}),
	}
}

type runOptions struct {
	input  string
	stream bool
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Run a pipeline once and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			return runPipeline(ctx, cmd.OutOrStdout(), a, args[0], ro)
		}),
	}
	cmd.Flags().StringVarP(&ro.input, "input", "i", "", `pipeline input as JSON, e.g. '{"topic":"bears"}' or '"bears"'`)
	cmd.Flags().BoolVarP(&ro.stream, "stream", "s", false, "print chunks as they arrive")
	return cmd
}

func runPipeline(ctx context.Context, w io.Writer, a *app, name string, ro *runOptions) error {
	entry, err := a.registry.Get(name)
	if err != nil {
		return err
	}

	var input any
	if ro.input != "" {
		if err := sonic.UnmarshalString(ro.input, &input); err != nil {
			return fmt.Errorf("--input is not valid JSON: %w", err)
		}
	}
	opts := []compose.Option{compose.WithCallbacks(a.handlers...)}

	if !ro.stream {
		out, err := entry.Runnable.Invoke(ctx, input, opts...)
		if err != nil {
			return err
		}
		return printValue(w, out)
	}

	sr, err := entry.Runnable.Transform(ctx, schema.StreamReaderFromArray([]any{input}), opts...)
	if err != nil {
		return err
	}
	defer sr.Close()
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			_, err = fmt.Fprintln(w)
			return err
		}
		if err != nil {
			return err
		}
		if s, ok := chunk.(string); ok {
			fmt.Fprint(w, s)
			continue
		}
		if err := printValue(w, chunk); err != nil {
			return err
		}
	}
}

// printValue 字符串原样输出，其余按 JSON 输出。
func printValue(w io.Writer, v any) error {
	if s, ok := v.(string); ok {
		_, err := fmt.Fprintln(w, s)
		return err
	}
	b, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
