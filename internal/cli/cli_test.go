package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "ptides", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	// 檢查子命令
	commandNames := make(map[string]bool)
	for _, c := range cmd.Commands() {
		commandNames[c.Name()] = true
	}
	for _, name := range []string{"run", "simulate", "deadlines", "trace", "status"} {
		assert.True(t, commandNames[name], "should have %q command", name)
	}

	// 檢查持久化標誌
	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "configs/ptides.yaml", configFlag.DefValue)

	levelFlag := cmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, levelFlag)
	assert.Equal(t, "info", levelFlag.DefValue)
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()
	assert.Equal(t, "run", cmd.Use)
	assert.Contains(t, cmd.Short, "Start")
	assert.NotNil(t, cmd.RunE)
}

func TestBuildSimulateCommand(t *testing.T) {
	cmd := buildSimulateCommand()
	assert.Equal(t, "simulate", cmd.Use)
	untilFlag := cmd.Flags().Lookup("until")
	require.NotNil(t, untilFlag)
	assert.Equal(t, "1s", untilFlag.DefValue)
}

// ============================================================================
// 執行子命令
// ============================================================================

const simDoc = `
platform: {id: cli-sim, clock: system}
actors:
  - {name: s1, kind: sensor, next: [md1]}
  - {name: s2, kind: sensor, next: [md2]}
  - {name: md1, kind: model_delay, next: [merge], model_delay: 2ms}
  - {name: md2, kind: model_delay, next: [merge], model_delay: 3ms}
  - {name: merge, kind: merge, next: [act]}
  - {name: act, kind: actuator}
stimulus:
  - {actor: s1, interval: 10ms, count: 2}
  - {actor: s2, interval: 10ms, count: 2, start_value: 100}
`

func writeConfig(t *testing.T, doc string) (path, dir string) {
	t.Helper()
	dir = t.TempDir()
	doc += "trace: {path: " + filepath.Join(dir, "trace.jsonl") + "}\n"
	doc += "report: {path: " + filepath.Join(dir, "report.json") + "}\n"
	path = filepath.Join(dir, "ptides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := BuildCLI()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSimulateStatusAndTrace(t *testing.T) {
	cfgPath, dir := writeConfig(t, simDoc)

	out, err := execute(t, "-c", cfgPath, "--log-level", "error", "simulate", "--until", "20ms")
	require.NoError(t, err)
	assert.Contains(t, out, "platform cli-sim simulated until")
	assert.Contains(t, out, "stimuli: 4 fired, 0 rejected")
	assert.Contains(t, out, "actuations=4 misses=0")
	assert.Equal(t, 4, strings.Count(out, "\nact "), "one row per actuation:\n%s", out)

	out, err = execute(t, "-c", cfgPath, "--log-level", "error", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Platform cli-sim")
	assert.Contains(t, out, "Actuations:  4")
	assert.NotContains(t, out, "Halted")

	out, err = execute(t, "--log-level", "error", "trace", filepath.Join(dir, "trace.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, out, "actuator act: 4 actuations, 0 misses")
	assert.Contains(t, out, "min slack:")
}

func TestSimulateRejectsNonPositiveUntil(t *testing.T) {
	cfgPath, _ := writeConfig(t, simDoc)
	_, err := execute(t, "-c", cfgPath, "simulate", "--until", "0s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--until must be positive")
}

func TestSimulateReportsHalt(t *testing.T) {
	cfgPath, _ := writeConfig(t, `
platform: {pool_capacity: 1}
actors:
  - {name: s, kind: sensor, next: [a1, a2]}
  - {name: a1, kind: actuator}
  - {name: a2, kind: actuator}
stimulus:
  - {actor: s, interval: 1ms}
`)
	_, err := execute(t, "-c", cfgPath, "--log-level", "error", "simulate", "--until", "5ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulation halted")

	out, err := execute(t, "-c", cfgPath, "--log-level", "error", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Halted:")
}

func TestDeadlines(t *testing.T) {
	cfgPath, _ := writeConfig(t, simDoc)
	out, err := execute(t, "-c", cfgPath, "deadlines")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 7, "header plus one row per actor")
	assert.Contains(t, lines[0], "DEADLINE")

	var merge string
	for _, l := range lines {
		if strings.HasPrefix(l, "merge") {
			merge = l
		}
	}
	require.NotEmpty(t, merge)
	assert.Contains(t, merge, "true", "merge has multiple inputs")
}

func TestStatusWithoutReport(t *testing.T) {
	cfgPath, _ := writeConfig(t, simDoc)
	_, err := execute(t, "-c", cfgPath, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load report")
}

func TestTraceMissingFile(t *testing.T) {
	_, err := execute(t, "trace", filepath.Join(t.TempDir(), "none.jsonl"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read trace")
}

func TestConfigFileNotFound(t *testing.T) {
	_, err := execute(t, "-c", "/nonexistent/ptides.yaml", "deadlines")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestInvalidLogLevel(t *testing.T) {
	cfgPath, _ := writeConfig(t, simDoc)
	_, err := execute(t, "-c", cfgPath, "--log-level", "loud", "deadlines")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
