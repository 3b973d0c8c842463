package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/favbox/eino-chains/components/indexer"
	"github.com/favbox/eino-chains/pipelines"
)

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var (
		texts []string
		file  string
		index string
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Embed texts and write them to the configured document store",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			if file != "" {
				lines, err := readLines(file)
				if err != nil {
					return err
				}
				texts = append(texts, lines...)
			}
			if len(texts) == 0 {
				return errors.New("nothing to index: use --text or --file")
			}
			if a.cfg.Store.Driver == "memory" {
				a.logger.Warn("memory store does not outlive this process", zap.Int("texts", len(texts)))
			}

			var idxOpts []indexer.Option
			if index != "" {
				idxOpts = append(idxOpts, indexer.WithIndex(index))
			}
			ids, err := pipelines.IndexTexts(ctx, a.store, texts, idxOpts...)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		}),
	}
	cmd.Flags().StringArrayVarP(&texts, "text", "t", nil, "text to index, repeatable")
	cmd.Flags().StringVarP(&file, "file", "f", "", "file with one text per non-empty line")
	cmd.Flags().StringVar(&index, "index", "", "target index, default \"default\"")
	return cmd
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
