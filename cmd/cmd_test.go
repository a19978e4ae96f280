// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/domtaint/internal/config"
	"github.com/xkilldash9x/domtaint/internal/observability"
	"github.com/xkilldash9x/domtaint/internal/reporting"
)

const trackedPage = `<!DOCTYPE html>
<html><body>
<form><input id="q" value="abc"></form>
<script>
  var v = document.getElementById("q").value;
  var shout = v.toUpperCase() + "!";
</script>
</body></html>`

// isolate keeps the test away from the developer's config files and environment and
// silences the global logger.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	observability.ResetForTest()
	observability.Initialize(config.LoggerConfig{Level: "error", Format: "console"}, zapcore.AddSync(io.Discard))
	t.Cleanup(observability.ResetForTest)
	return dir
}

func executeCommand(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func decodeReport(t *testing.T, data string) reporting.JSONReport {
	t.Helper()
	var report reporting.JSONReport
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(data), &report))
	return report
}

func TestRootCmd_VersionFlag(t *testing.T) {
	isolate(t)
	out, _, err := executeCommand(t, "", "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestRootCmd_NoArgsPrintsHelp(t *testing.T) {
	isolate(t)
	out, _, err := executeCommand(t, "")
	require.NoError(t, err)
	assert.Contains(t, out, "domtaint loads a page, marks one DOM element as tainted")
	assert.Contains(t, out, "track")
	assert.Contains(t, out, "rewrite")
}

func TestRewriteCmd_Stdin(t *testing.T) {
	isolate(t)
	out, _, err := executeCommand(t, "a + b;", "rewrite")
	require.NoError(t, err)
	assert.Equal(t, "__plus__(a, b);", out)
}

func TestRewriteCmd_MarkAndFunctions(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "app.js", "function greet(n) { return \"hi \" + n; }\n")

	out, errOut, err := executeCommand(t, "", "rewrite", "--mark", "--functions", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "/*__domtaint_rewritten__*/function greet(n)"))
	assert.Contains(t, out, `__plus__("hi ", n)`)
	assert.Contains(t, errOut, "function: greet")
}

func TestRewriteCmd_Errors(t *testing.T) {
	dir := isolate(t)

	_, _, err := executeCommand(t, "var = ;", "rewrite", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to rewrite <stdin>")

	_, _, err = executeCommand(t, "", "rewrite", filepath.Join(dir, "missing.js"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTrackCmd_RequiresTarget(t *testing.T) {
	isolate(t)
	_, _, err := executeCommand(t, "", "track")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg(s)")
}

func TestTrackCmd_FileTarget(t *testing.T) {
	dir := isolate(t)
	page := writeFile(t, dir, "index.html", trackedPage)

	out, _, err := executeCommand(t, "", "track", "--selector", "#q", "--format", "json", "--settle", "50ms", page)
	require.NoError(t, err)

	report := decodeReport(t, out)
	assert.Equal(t, Version, report.Version)
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.True(t, res.TaintStarted)
	assert.True(t, strings.HasPrefix(res.URL, "file://"))
	assert.Contains(t, res.Labels, "tainted_input")
	assert.Contains(t, res.Labels, "tainted_input.value")
}

func TestTrackCmd_HTTPEngine(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, trackedPage)
	}))
	defer srv.Close()

	out, _, err := executeCommand(t, "", "track", "--engine", "http", "--selector", "#q", "--settle", "50ms", "-f", "text", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "== "+srv.URL+" (session ")
	assert.Contains(t, out, "taint started: yes")
	assert.Contains(t, out, "  tainted_input.value\n")
}

func TestTrackCmd_ConfigPrecedence(t *testing.T) {
	dir := isolate(t)
	page := writeFile(t, dir, "index.html", trackedPage)
	writeFile(t, dir, "config.yaml", `
tracker:
  label: from_file
  selector: "#missing"
  settle_time: 50ms
report:
  format: json
`)
	t.Setenv("DOMTAINT_TRACKER_SELECTOR", "#q")

	out, _, err := executeCommand(t, "", "track", page)
	require.NoError(t, err)
	res := decodeReport(t, out).Results[0]
	assert.Contains(t, res.Labels, "from_file", "config file sets the label")
	assert.True(t, res.TaintStarted, "environment overrides the selector from the file")

	out, _, err = executeCommand(t, "", "track", "--label", "from_flag", page)
	require.NoError(t, err)
	res = decodeReport(t, out).Results[0]
	assert.Contains(t, res.Labels, "from_flag", "flags override the config file")
	assert.NotContains(t, res.Labels, "from_file")
}

func TestTrackCmd_ExplicitConfigFromHome(t *testing.T) {
	dir := isolate(t)
	page := writeFile(t, dir, "index.html", trackedPage)
	writeFile(t, dir, "custom.yaml", "tracker:\n  selector: \"#q\"\n  settle_time: 50ms\nreport:\n  format: json\n")

	out, _, err := executeCommand(t, "", "track", "--config", "~/custom.yaml", page)
	require.NoError(t, err)
	assert.True(t, decodeReport(t, out).Results[0].TaintStarted)

	_, _, err = executeCommand(t, "", "track", "--config", "~/absent.yaml", page)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestTrackCmd_InvalidConfig(t *testing.T) {
	isolate(t)
	_, _, err := executeCommand(t, "", "track", "--label", "document", "page.html")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load or validate config")

	_, _, err = executeCommand(t, "", "track", "--trigger", "button", "page.html")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selector@event")
}

func TestTrackCmd_PartialFailureStillReports(t *testing.T) {
	dir := isolate(t)
	page := writeFile(t, dir, "index.html", trackedPage)
	reportPath := filepath.Join(dir, "out", "report.json")

	_, _, err := executeCommand(t, "",
		"track", "--selector", "#q", "--settle", "50ms", "-f", "json", "-o", reportPath,
		filepath.Join(dir, "missing.html"), page)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 targets failed")

	data, readErr := os.ReadFile(reportPath)
	require.NoError(t, readErr)
	report := decodeReport(t, string(data))
	require.Len(t, report.Results, 1)
	assert.Contains(t, report.Results[0].URL, "index.html")
}

func TestGetConfigFromContext(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	assert.Error(t, err)

	cfg := config.NewDefaultConfig()
	got, err := getConfigFromContext(context.WithValue(context.Background(), configKey, cfg))
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}

func TestConfigFilePath(t *testing.T) {
	dir := isolate(t)

	path, err := configFilePath("")
	require.NoError(t, err)
	assert.Empty(t, path, "no candidate exists")

	home := writeFile(t, dir, ".domtaint.yaml", "logger:\n  level: debug\n")
	path, err = configFilePath("")
	require.NoError(t, err)
	assert.Equal(t, home, path)

	writeFile(t, dir, "config.yaml", "")
	path, err = configFilePath("")
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", path, "the working directory wins over the home directory")

	path, err = configFilePath("~/other.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "other.yaml"), path)
}
