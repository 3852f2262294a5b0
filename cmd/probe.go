// cmd/probe.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autowait/internal/action"
	"github.com/xkilldash9x/autowait/internal/condition"
	"github.com/xkilldash9x/autowait/internal/config"
	"github.com/xkilldash9x/autowait/internal/driver"
	"github.com/xkilldash9x/autowait/internal/driver/cdp"
	"github.com/xkilldash9x/autowait/internal/driver/static"
	"github.com/xkilldash9x/autowait/internal/harness"
	"github.com/xkilldash9x/autowait/internal/locator"
	"github.com/xkilldash9x/autowait/internal/network"
	"github.com/xkilldash9x/autowait/internal/observability"
	"github.com/xkilldash9x/autowait/internal/poll"
	"github.com/xkilldash9x/autowait/internal/session"
)

// errProbeFailed is returned when an action or assertion did not pass.
var errProbeFailed = errors.New("probe failed")

type probeOptions struct {
	driver string
	url    string
	html   string

	role        string
	name        string
	text        string
	label       string
	placeholder string
	testID      string
	selector    string
	exact       bool
	hasText     string
	nth         int

	action     string
	conditions []string
	timeout    time.Duration
	headless   bool
}

func newProbeCmd() *cobra.Command {
	o := &probeOptions{}
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Resolve a locator on a page, optionally act on it, and assert conditions",
		Long: `probe loads a page, resolves one locator with auto-waiting and reports
whether the requested action and conditions succeeded within the timeout.

Examples:
  autowait probe --url https://example.com --role link --name "More information" --action click
  autowait probe --html form.html --label Email --action fill=ada@example.test --condition value=ada@example.test`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("headless") {
				cfg.SetBrowserHeadless(o.headless)
			}
			if o.timeout > 0 {
				cfg.SetPollTimeout(o.timeout)
			}
			return runProbe(cmd.Context(), cmd.OutOrStdout(), cfg, o, cmd.Flags().Changed("nth"))
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.driver, "driver", "", "driver to use: cdp or static (default cdp, or static with --html)")
	f.StringVar(&o.url, "url", "", "URL to load before probing")
	f.StringVar(&o.html, "html", "", "HTML file to load into the static driver")
	f.StringVar(&o.role, "role", "", "locate by ARIA role")
	f.StringVar(&o.name, "name", "", "accessible name, used with --role")
	f.StringVar(&o.text, "text", "", "locate by visible text")
	f.StringVar(&o.label, "label", "", "locate a form control by its label")
	f.StringVar(&o.placeholder, "placeholder", "", "locate an input by placeholder")
	f.StringVar(&o.testID, "testid", "", "locate by test id attribute (browser.test_id_attribute)")
	f.StringVar(&o.selector, "selector", "", "locate by CSS selector")
	f.BoolVar(&o.exact, "exact", false, "match text and names exactly")
	f.StringVar(&o.hasText, "has-text", "", "keep only matches containing this text")
	f.IntVar(&o.nth, "nth", 0, "keep only the match at this index (negative counts from the end)")
	f.StringVar(&o.action, "action", "", "click, dblclick, hover, check, uncheck, fill=TEXT, press=KEY or select=VALUE")
	f.StringArrayVar(&o.conditions, "condition", nil, "condition to assert, repeatable (visible, hidden, enabled, count=N, text=..., value=...)")
	f.DurationVar(&o.timeout, "timeout", 0, "override poll.timeout")
	f.BoolVar(&o.headless, "headless", true, "run the browser headless (cdp driver)")
	return cmd
}

func runProbe(ctx context.Context, out io.Writer, cfg *config.Config, o *probeOptions, nthSet bool) error {
	logger := observability.GetLogger().Named("probe")

	loc, err := buildLocator(o, cfg.Browser().TestIDAttribute, nthSet)
	if err != nil {
		return err
	}
	act, hasAction, err := parseAction(o.action)
	if err != nil {
		return err
	}
	cond, err := parseConditions(o.conditions)
	if err != nil {
		return err
	}
	if cond.IsZero() && !hasAction {
		cond = condition.Visible()
	}

	drv, closeDriver, err := openDriver(ctx, cfg, o, logger)
	if err != nil {
		return err
	}
	defer closeDriver()

	h, err := harness.New(cfg, drv, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := h.Close(ctx); cerr != nil {
			logger.Warn("Failed to close harness.", zap.Error(cerr))
		}
	}()

	return h.WithContext(ctx, func(ctx context.Context, _ *session.ExecutionContext, page *session.Page) error {
		if o.url != "" {
			if err := page.Navigate(ctx, o.url); err != nil {
				return err
			}
		}
		if hasAction {
			if failed := report(out, act.String(), loc, h.Perform(ctx, page, loc, act)); failed {
				return errProbeFailed
			}
		}
		if !cond.IsZero() {
			res := h.Expect(ctx, page, loc, cond)
			if failed := report(out, "expect "+cond.String(), loc, res.Outcome); failed {
				return errProbeFailed
			}
		}
		return nil
	})
}

// report prints one outcome line and reports whether it failed.
func report(out io.Writer, what string, loc locator.Locator, res poll.Outcome) bool {
	if res.OK() {
		fmt.Fprintf(out, "PASS %s %s (%d attempts, %s)\n", what, loc, res.Attempts, res.Elapsed.Round(time.Millisecond))
		return false
	}
	msg := res.Status.String()
	if res.Err != nil {
		msg = res.Err.Error()
	}
	fmt.Fprintf(out, "FAIL %s %s: %s\n", what, loc, msg)
	return true
}

func openDriver(ctx context.Context, cfg *config.Config, o *probeOptions, logger *zap.Logger) (driver.Driver, func(), error) {
	kind := o.driver
	if kind == "" {
		kind = "cdp"
		if o.html != "" {
			kind = "static"
		}
	}
	switch kind {
	case "static":
		var markup string
		if o.html != "" {
			data, err := os.ReadFile(o.html)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to read html file: %w", err)
			}
			markup = string(data)
		}
		d := static.New(static.Options{
			HTML:    markup,
			Network: network.ConfigFromBrowser(cfg.Browser()),
			Logger:  logger,
		})
		return d, func() { _ = d.Close() }, nil
	case "cdp":
		if o.html != "" {
			return nil, nil, errors.New("--html requires the static driver")
		}
		d, err := cdp.New(ctx, cfg.Browser(), logger)
		if err != nil {
			return nil, nil, err
		}
		return d, func() {
			if err := d.Close(); err != nil {
				logger.Warn("Failed to close browser.", zap.Error(err))
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", o.driver)
	}
}

// buildLocator turns the locator flags into a Locator. Exactly one base
// query flag must be set.
func buildLocator(o *probeOptions, testIDAttribute string, nthSet bool) (locator.Locator, error) {
	var (
		loc   locator.Locator
		bases []string
	)
	if o.role != "" {
		loc, bases = locator.ByRole(o.role, o.name, o.exact), append(bases, "--role")
	}
	if o.text != "" {
		loc, bases = locator.ByText(o.text, o.exact), append(bases, "--text")
	}
	if o.label != "" {
		loc, bases = locator.ByLabel(o.label, o.exact), append(bases, "--label")
	}
	if o.placeholder != "" {
		loc, bases = locator.ByPlaceholder(o.placeholder, o.exact), append(bases, "--placeholder")
	}
	if o.testID != "" {
		loc, bases = locator.ByTestIDAttribute(testIDAttribute, o.testID), append(bases, "--testid")
	}
	if o.selector != "" {
		loc, bases = locator.BySelector(o.selector), append(bases, "--selector")
	}
	switch len(bases) {
	case 0:
		return locator.Locator{}, errors.New("one of --role, --text, --label, --placeholder, --testid or --selector is required")
	case 1:
	default:
		return locator.Locator{}, fmt.Errorf("only one locator flag may be set, got %s", strings.Join(bases, ", "))
	}
	if o.name != "" && o.role == "" {
		return locator.Locator{}, errors.New("--name is only valid with --role")
	}

	if o.hasText != "" {
		loc = loc.HasText(o.hasText)
	}
	if nthSet {
		loc = loc.Nth(o.nth)
	}
	return loc, nil
}

// parseAction parses "kind" or "kind=value". An empty string means no action.
func parseAction(s string) (driver.Action, bool, error) {
	if s == "" {
		return driver.Action{}, false, nil
	}
	kind, value, hasValue := strings.Cut(s, "=")
	switch driver.ActionKind(kind) {
	case driver.ActionClick:
		return action.Click(), true, nil
	case driver.ActionDoubleClick:
		return action.DoubleClick(), true, nil
	case driver.ActionHover:
		return action.Hover(), true, nil
	case driver.ActionCheck:
		return action.Check(), true, nil
	case driver.ActionUncheck:
		return action.Uncheck(), true, nil
	case driver.ActionFill:
		return action.Fill(value), true, nil
	case driver.ActionPress:
		if !hasValue || value == "" {
			return driver.Action{}, false, errors.New("press needs a key, e.g. press=Enter")
		}
		return action.Press(value), true, nil
	case driver.ActionSelect:
		if !hasValue {
			return driver.Action{}, false, errors.New("select needs a value, e.g. select=eu")
		}
		return action.SelectOption(value), true, nil
	default:
		return driver.Action{}, false, fmt.Errorf("unknown action %q", kind)
	}
}

// parseConditions combines every --condition into one. Zero conditions give
// the zero Condition.
func parseConditions(specs []string) (condition.Condition, error) {
	parts := make([]condition.Condition, 0, len(specs))
	for _, s := range specs {
		c, err := parseCondition(s)
		if err != nil {
			return condition.Condition{}, err
		}
		parts = append(parts, c)
	}
	switch len(parts) {
	case 0:
		return condition.Condition{}, nil
	case 1:
		return parts[0], nil
	default:
		return condition.All(parts...), nil
	}
}

func parseCondition(s string) (condition.Condition, error) {
	name, arg, hasArg := strings.Cut(strings.TrimSpace(s), "=")
	switch name {
	case "attached":
		return condition.Attached(), nil
	case "detached":
		return condition.Detached(), nil
	case "visible":
		return condition.Visible(), nil
	case "hidden":
		return condition.Hidden(), nil
	case "enabled":
		return condition.Enabled(), nil
	case "disabled":
		return condition.Disabled(), nil
	case "editable":
		return condition.Editable(), nil
	case "checked":
		return condition.Checked(), nil
	case "unchecked":
		return condition.Unchecked(), nil
	case "stable":
		return condition.Stable(), nil
	case "receives-pointer-events":
		return condition.ReceivesPointerEvents(), nil
	case "text", "text-exact":
		if !hasArg {
			return condition.Condition{}, fmt.Errorf("%s needs a value, e.g. %s=Welcome", name, name)
		}
		return condition.HasText(arg, name == "text-exact"), nil
	case "value":
		if !hasArg {
			return condition.Condition{}, errors.New("value needs a value, e.g. value=42")
		}
		return condition.HasValue(arg), nil
	case "count":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return condition.Condition{}, fmt.Errorf("count needs a non-negative integer, got %q", arg)
		}
		return condition.HasCount(n), nil
	default:
		return condition.Condition{}, fmt.Errorf("unknown condition %q", s)
	}
}
