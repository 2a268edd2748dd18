package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/itswale/api-utils/internal/logs"
	"github.com/itswale/api-utils/internal/pagecheck"
	"github.com/itswale/api-utils/internal/report"
)

var errChecksFailed = errors.New("page checks failed")

func checkCmd() *cobra.Command {
	var (
		checks     []string
		searchText string
		selector   string
		screenshot string
		driver     string
	)

	cmd := &cobra.Command{
		Use:   "check <url>",
		Short: "Run webpage checks against a URL and print the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if driver != "" {
				cfg.Browser.Driver = driver
			}
			logger, err := logs.New(cfg.Log.Level)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()

			kinds, err := pagecheck.ParseKinds(checks)
			if err != nil {
				return err
			}
			engine, err := newEngine(cfg, logger)
			if err != nil {
				return err
			}
			req := pagecheck.Request{
				URL:            args[0],
				Checks:         kinds,
				SearchText:     searchText,
				CustomSelector: selector,
			}
			return runPageCheck(cmd.Context(), cmd.OutOrStdout(), engine, req, screenshot)
		},
	}

	cmd.Flags().StringSliceVarP(&checks, "checks", "c", []string{"title", "status"}, "checks to run")
	cmd.Flags().StringVar(&searchText, "search-text", "", "text the text check looks for")
	cmd.Flags().StringVar(&selector, "selector", "", "CSS selector the custom check looks for")
	cmd.Flags().StringVar(&screenshot, "screenshot", "", "write the screenshot check's PNG to this file")
	cmd.Flags().StringVar(&driver, "driver", "", "override browser.driver (chrome or static)")
	return cmd
}

// runPageCheck runs req, writes the report to out and saves the screenshot
// to screenshotPath when one was taken.
func runPageCheck(ctx context.Context, out io.Writer, runner pagecheck.Runner, req pagecheck.Request, screenshotPath string) error {
	rs := runner.Run(ctx, req)
	report.WritePage(out, rs)

	if o, ok := rs.Outcomes[pagecheck.KindScreenshot]; ok && screenshotPath != "" && len(o.Image) > 0 {
		if err := os.WriteFile(screenshotPath, o.Image, 0o644); err != nil {
			return fmt.Errorf("writing screenshot: %w", err)
		}
		fmt.Fprintf(out, "Screenshot saved to %s\n", screenshotPath)
	}

	if !rs.Passed() {
		return errChecksFailed
	}
	return nil
}
