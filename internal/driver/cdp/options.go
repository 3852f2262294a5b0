// internal/driver/cdp/options.go
package cdp

import (
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/autowait/internal/config"
)

// AllocatorOptions translates browser configuration into chromedp allocator
// options.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("headless", cfg.Headless),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.DisableCache {
		opts = append(opts, chromedp.Flag("disk-cache-size", "0"))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height))
	}
	for _, arg := range cfg.Args {
		key, value, ok := parseFlag(arg)
		if !ok {
			continue
		}
		opts = append(opts, chromedp.Flag(key, value))
	}
	return opts
}

// parseFlag accepts "--name", "name" and "name=value" forms. chromedp adds
// the leading dashes itself.
func parseFlag(arg string) (string, any, bool) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", nil, false
	}
	key, value, found := strings.Cut(arg, "=")
	if key == "" {
		return "", nil, false
	}
	if !found {
		return key, true, true
	}
	return key, value, true
}
