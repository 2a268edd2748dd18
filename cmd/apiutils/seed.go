package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itswale/api-utils/internal/config"
	"github.com/itswale/api-utils/internal/pagecheck"
	"github.com/itswale/api-utils/internal/prober"
	"github.com/itswale/api-utils/internal/session"
)

// seedTests saves the tests listed in the config, in order.
func seedTests(ctx context.Context, sess *session.Session, seeds []config.TestSeed) error {
	for i, seed := range seeds {
		switch seed.Kind {
		case "api":
			req, err := apiSeed(seed)
			if err != nil {
				return fmt.Errorf("tests[%d]: %w", i, err)
			}
			if _, err := sess.SaveAPI(ctx, req); err != nil {
				return fmt.Errorf("saving tests[%d]: %w", i, err)
			}
		case "ui":
			kinds, err := pagecheck.ParseKinds(seed.Checks)
			if err != nil {
				return fmt.Errorf("tests[%d]: %w", i, err)
			}
			req := pagecheck.Request{
				URL:            seed.URL,
				Checks:         kinds,
				SearchText:     seed.SearchText,
				CustomSelector: seed.CustomSelector,
			}
			if _, err := sess.SaveUI(ctx, req); err != nil {
				return fmt.Errorf("saving tests[%d]: %w", i, err)
			}
		default:
			return fmt.Errorf("tests[%d]: unknown kind %q", i, seed.Kind)
		}
	}
	return nil
}

func apiSeed(seed config.TestSeed) (prober.Request, error) {
	req := prober.Request{Method: seed.Method, URL: seed.URL, Body: seed.Body}
	if req.Method == "" {
		req.Method = "GET"
	}
	if len(seed.Headers) > 0 {
		b, err := json.Marshal(seed.Headers)
		if err != nil {
			return prober.Request{}, fmt.Errorf("encoding headers: %w", err)
		}
		req.Headers = string(b)
	}
	return req, nil
}
