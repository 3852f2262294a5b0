// cmd/cmd_test.go
package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/autowait/internal/condition"
	"github.com/xkilldash9x/autowait/internal/config"
	"github.com/xkilldash9x/autowait/internal/driver"
	"github.com/xkilldash9x/autowait/internal/locator"
	"github.com/xkilldash9x/autowait/internal/observability"
)

const form = `<html><body>
<label for="email">Email</label><input id="email" type="email">
<button type="button">Save</button>
<button type="button" disabled>Delete</button>
<p data-testid="greeting">Hello, gopher</p>
</body></html>`

// run executes a fresh command tree and returns its stdout.
func run(t *testing.T, extra *cobra.Command, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Cleanup(observability.ResetForTest)

	root := NewRootCommand()
	if extra != nil {
		root.AddCommand(extra)
	}
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func writeHTML(t *testing.T, markup string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte(markup), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, nil, "version")
	require.NoError(t, err)
	assert.Equal(t, "autowait "+Version+"\n", out)
}

func TestProbe(t *testing.T) {
	page := writeHTML(t, form)

	tests := []struct {
		name    string
		args    []string
		wantErr bool
		want    []string
	}{
		{
			name: "click then expect",
			args: []string{"--role", "button", "--name", "Save", "--action", "click", "--condition", "enabled"},
			want: []string{"PASS click", "PASS expect enabled"},
		},
		{
			name: "fill and read back",
			args: []string{"--label", "Email", "--action", "fill=ada@example.test", "--condition", "value=ada@example.test"},
			want: []string{"PASS fill", "PASS expect"},
		},
		{
			name: "default condition is visible",
			args: []string{"--testid", "greeting"},
			want: []string{"PASS expect visible"},
		},
		{
			name: "combined conditions",
			args: []string{"--selector", "button", "--condition", "count=2"},
			want: []string{"PASS expect hasCount(2)"},
		},
		{
			name: "conjunction",
			args: []string{"--selector", "p", "--condition", "visible", "--condition", "text=gopher"},
			want: []string{`PASS expect all(visible, hasText("gopher"))`},
		},
		{
			name:    "disabled button times out",
			args:    []string{"--role", "button", "--name", "Delete", "--action", "click", "--timeout", "200ms"},
			wantErr: true,
			want:    []string{"FAIL click"},
		},
		{
			name:    "ambiguous locator fails",
			args:    []string{"--role", "button", "--action", "click"},
			wantErr: true,
			want:    []string{"FAIL click"},
		},
		{
			name:    "missing element",
			args:    []string{"--text", "Nowhere", "--timeout", "150ms"},
			wantErr: true,
			want:    []string{"FAIL expect visible"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, nil, append([]string{"probe", "--html", page}, tt.args...)...)
			if tt.wantErr {
				assert.ErrorIs(t, err, errProbeFailed)
			} else {
				assert.NoError(t, err)
			}
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}

func TestProbeRejectsBadFlags(t *testing.T) {
	page := writeHTML(t, form)
	for name, args := range map[string][]string{
		"no locator":      {"probe", "--html", page},
		"two locators":    {"probe", "--html", page, "--text", "Save", "--role", "button"},
		"unknown driver":  {"probe", "--driver", "gecko", "--text", "Save"},
		"html with cdp":   {"probe", "--driver", "cdp", "--html", page, "--text", "Save"},
		"bad condition":   {"probe", "--html", page, "--text", "Save", "--condition", "shiny"},
		"bad action":      {"probe", "--html", page, "--text", "Save", "--action", "tickle"},
		"missing html":    {"probe", "--html", filepath.Join(t.TempDir(), "nope.html"), "--text", "Save"},
		"unexpected args": {"probe", "extra", "--text", "Save"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := run(t, nil, args...)
			require.Error(t, err)
			assert.NotErrorIs(t, err, errProbeFailed)
		})
	}
}

// captureConfig returns a subcommand that records the loaded configuration.
func captureConfig(dst **config.Config) *cobra.Command {
	return &cobra.Command{
		Use: "capture",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			*dst = cfg
			return err
		},
	}
}

func TestConfigLayering(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		var cfg *config.Config
		_, err := run(t, captureConfig(&cfg), "capture")
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, cfg.Poll().Timeout)
		assert.Equal(t, "data-testid", cfg.Browser().TestIDAttribute)
		assert.Equal(t, "error", cfg.Logger().Level)
	})

	t.Run("file then env", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "autowait.yaml")
		require.NoError(t, os.WriteFile(path, []byte("poll:\n  timeout: 3s\npool:\n  size: 2\n"), 0o600))
		t.Setenv("AUTOWAIT_POOL_SIZE", "7")

		var cfg *config.Config
		_, err := run(t, captureConfig(&cfg), "--config", path, "capture")
		require.NoError(t, err)
		assert.Equal(t, 3*time.Second, cfg.Poll().Timeout)
		assert.Equal(t, 7, cfg.Pool().Size)
	})

	t.Run("invalid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "autowait.yaml")
		require.NoError(t, os.WriteFile(path, []byte("poll:\n  timeout: -1s\n"), 0o600))
		var cfg *config.Config
		_, err := run(t, captureConfig(&cfg), "--config", path, "capture")
		assert.Error(t, err)
	})
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		in      string
		want    condition.Condition
		wantErr bool
	}{
		{in: "visible", want: condition.Visible()},
		{in: " hidden ", want: condition.Hidden()},
		{in: "receives-pointer-events", want: condition.ReceivesPointerEvents()},
		{in: "count=3", want: condition.HasCount(3)},
		{in: "text=Hello, world", want: condition.HasText("Hello, world", false)},
		{in: "text-exact=Hi", want: condition.HasText("Hi", true)},
		{in: "value=", want: condition.HasValue("")},
		{in: "count=-1", wantErr: true},
		{in: "count=many", wantErr: true},
		{in: "text", wantErr: true},
		{in: "glowing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseCondition(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.String(), got.String())
		})
	}
}

func TestParseAction(t *testing.T) {
	act, ok, err := parseAction("")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, driver.Action{}, act)

	act, ok, err = parseAction("fill=")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, driver.Action{Kind: driver.ActionFill}, act)

	act, _, err = parseAction("press=Enter")
	require.NoError(t, err)
	assert.Equal(t, driver.Action{Kind: driver.ActionPress, Value: "Enter"}, act)

	act, _, err = parseAction("select=a=b")
	require.NoError(t, err)
	assert.Equal(t, "a=b", act.Value)

	for _, bad := range []string{"press", "press=", "select", "swipe"} {
		_, _, err := parseAction(bad)
		assert.Error(t, err, bad)
	}
}

func TestBuildLocator(t *testing.T) {
	loc, err := buildLocator(&probeOptions{role: "button", name: "Save", hasText: "Sa", nth: -1}, "data-testid", true)
	require.NoError(t, err)
	assert.True(t, loc.Equal(locator.ByRole("button", "Save", false).HasText("Sa").Nth(-1)), loc.String())

	loc, err = buildLocator(&probeOptions{testID: "x"}, "data-qa", false)
	require.NoError(t, err)
	assert.True(t, loc.Equal(locator.ByTestIDAttribute("data-qa", "x")))

	_, err = buildLocator(&probeOptions{text: "Save", name: "Save"}, "data-testid", false)
	assert.Error(t, err)
}
