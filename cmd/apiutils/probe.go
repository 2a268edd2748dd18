package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/itswale/api-utils/internal/logs"
	"github.com/itswale/api-utils/internal/prober"
	"github.com/itswale/api-utils/internal/report"
)

var errProbeFailed = errors.New("probe failed")

func probeCmd() *cobra.Command {
	var method, headers, body string

	cmd := &cobra.Command{
		Use:   "probe <url>",
		Short: "Send one API request and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := logs.New(cfg.Log.Level)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()

			p := prober.New(cfg.Prober.Timeout.Duration, logger)
			req := prober.Request{
				Method:  strings.ToUpper(method),
				URL:     args[0],
				Headers: headers,
				Body:    body,
			}
			return runProbe(cmd.Context(), cmd.OutOrStdout(), p, req)
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method (GET, POST, PUT, DELETE)")
	cmd.Flags().StringVarP(&headers, "headers", "H", "", `request headers as a JSON object, e.g. {"Accept":"application/json"}`)
	cmd.Flags().StringVarP(&body, "body", "d", "", "request body, sent for POST and PUT")
	return cmd
}

// runProbe sends req and writes the report to out. It returns errProbeFailed
// when the request failed or the API answered with a 4xx/5xx status.
func runProbe(ctx context.Context, out io.Writer, p *prober.Prober, req prober.Request) error {
	res, err := p.Probe(ctx, req)
	if werr := report.WriteAPI(out, res, err); werr != nil {
		return werr
	}
	if err != nil || !res.Passed() {
		return errProbeFailed
	}
	return nil
}
