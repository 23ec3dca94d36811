package commands_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/entrysync/internal/config"
)

var binaryPath string

func TestMain(m *testing.M) {
	// Build the binary once for all tests.
	tmpDir, err := os.MkdirTemp("", "entrysync-test-*")
	if err != nil {
		panic(err)
	}

	binaryPath = filepath.Join(tmpDir, "entrysync")
	cmd := exec.Command("go", "build", "-o", binaryPath, "../../cmd/entrysync")
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		os.RemoveAll(tmpDir)
		panic("failed to build binary: " + err.Error())
	}

	code := m.Run()
	os.RemoveAll(tmpDir)
	os.Exit(code)
}

// runEntrysync runs the binary inside dir with a clean environment so
// neither a developer's .env nor exported secrets leak into the test.
func runEntrysync(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(binaryPath, args...)
	cmd.Dir = dir
	cmd.Env = []string{"HOME=" + dir, "PATH=" + os.Getenv("PATH")}
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func initDeployment(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	out, err := runEntrysync(t, dir, "init", ".", "--partner", "SIEMENS", "--identifier", "SIEM01")
	require.NoError(t, err, out)
	return dir
}

func TestInit_CreatesStructure(t *testing.T) {
	dir := initDeployment(t)

	expectedDirs := []string{
		filepath.Join("outbox", "test"),
		filepath.Join("outbox", "production"),
		"archive",
		"logs",
		"keys",
	}
	for _, d := range expectedDirs {
		info, err := os.Stat(filepath.Join(dir, d))
		require.NoError(t, err, "directory %s should exist", d)
		assert.True(t, info.IsDir(), "%s should be a directory", d)
	}

	for _, f := range []string{config.FileName, ".env.example", ".gitignore"} {
		_, err := os.Stat(filepath.Join(dir, f))
		assert.NoError(t, err, "%s should exist", f)
	}
}

func TestInit_Config(t *testing.T) {
	dir := initDeployment(t)

	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	require.NoError(t, err)
	require.Len(t, cfg.Partners, 1)
	p := cfg.Partners[0]
	assert.Equal(t, "SIEMENS", p.ID)
	assert.Equal(t, "SIEMENS BILLING", p.TradingPartner)
	assert.Equal(t, []string{"SIEM01"}, p.Identifiers)
	assert.Equal(t, "fixed_width", p.Format)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestInit_RefusesExisting(t *testing.T) {
	dir := initDeployment(t)

	out, err := runEntrysync(t, dir, "init", ".", "--partner", "OTHER", "--identifier", "X")
	assert.Error(t, err)
	assert.Contains(t, out, "already exists")
}

func TestInit_PartnerRequired(t *testing.T) {
	out, err := runEntrysync(t, t.TempDir(), "init", ".")
	assert.Error(t, err)
	assert.Contains(t, out, "partner")
}

func TestCounter_SetAndShow(t *testing.T) {
	dir := initDeployment(t)

	out, err := runEntrysync(t, dir, "counter", "show")
	require.NoError(t, err, out)
	assert.Contains(t, out, "No counters.")

	out, err = runEntrysync(t, dir, "counter", "set", "SIEMENS", "41")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Counter SIEMENS set to 41")

	out, err = runEntrysync(t, dir, "counter", "show", "SIEMENS")
	require.NoError(t, err, out)
	assert.Contains(t, out, "41")

	out, err = runEntrysync(t, dir, "counter", "show")
	require.NoError(t, err, out)
	assert.Contains(t, out, "SIEMENS")

	_, err = runEntrysync(t, dir, "counter", "set", "SIEMENS", "-1")
	assert.Error(t, err)
}

func TestLedger_ShowEmpty(t *testing.T) {
	dir := initDeployment(t)

	out, err := runEntrysync(t, dir, "ledger", "show", "42")
	require.NoError(t, err, out)
	assert.Contains(t, out, "No sync records for entry 42.")

	out, err = runEntrysync(t, dir, "ledger", "recent")
	require.NoError(t, err, out)
	assert.Contains(t, out, "No confirmed deliveries.")

	_, err = runEntrysync(t, dir, "ledger", "show", "abc")
	assert.Error(t, err)
}

func TestRuns_Empty(t *testing.T) {
	dir := initDeployment(t)

	out, err := runEntrysync(t, dir, "runs")
	require.NoError(t, err, out)
	assert.Contains(t, out, "No runs recorded.")
}

func TestRun_RequiresSourceDSN(t *testing.T) {
	dir := initDeployment(t)

	out, err := runEntrysync(t, dir, "run")
	assert.Error(t, err)
	assert.Contains(t, out, "source.dsn")
}

func TestCommands_MissingConfig(t *testing.T) {
	out, err := runEntrysync(t, t.TempDir(), "counter", "show")
	assert.Error(t, err)
	assert.Contains(t, out, config.FileName)
}

const previewFixture = `entries:
  - entry:
      id: 7
      entry_number: "11981000000077"
      broker_reference: REF0077
      entry_type: AB
      importer_id: SIEM01
      currency: CAD
      country: CA
      file_logged_at: 2025-01-10T09:00:00Z
      release_at: 2025-01-12T15:00:00Z
      last_exported_from_source: 2025-01-10T10:00:00Z
    identifiers:
      Fenix Importer: [SIEM01]
    tariffs:
      - id: 71
        customs_line: "1"
        subheader: 1
        line_number: 1
        line_type: A
        value_for_duty: "1000.00"
        duty: "50.00"
        part_number: P-1
        description: Widget
        po_number: PO123
      - id: 72
        customs_line: "2"
        subheader: 1
        line_number: 1
        line_type: C
        value_for_duty: "200.00"
        duty: "10.00"
        gst: "5.00"
        part_number: P-2
        description: Gadget
`

func TestPreview_FixedWidthFromFixture(t *testing.T) {
	dir := initDeployment(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fixture.yaml"), []byte(previewFixture), 0o644))

	out, err := runEntrysync(t, dir, "preview", "--entry", "7", "--fixture", "fixture.yaml", "--batch", "42")
	require.NoError(t, err, out)

	assert.True(t, strings.HasSuffix(out, "\r\n"))
	records := strings.Split(strings.TrimSuffix(out, "\r\n"), "\r\n")
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Len(t, r, 260)
		assert.Equal(t, "000042", r[1:7])
	}
	assert.Equal(t, "PO123"+strings.Repeat(" ", 15), records[0][104:124])
}

func TestPreview_XLSXNeedsOut(t *testing.T) {
	dir := initDeployment(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fixture.yaml"), []byte(previewFixture), 0o644))

	out, err := runEntrysync(t, dir, "preview", "--entry", "7", "--fixture", "fixture.yaml", "--format", "xlsx")
	assert.Error(t, err)
	assert.Contains(t, out, "--out")

	out, err = runEntrysync(t, dir, "preview", "--entry", "7", "--fixture", "fixture.yaml", "--format", "xlsx", "--out", "entry.xlsx")
	require.NoError(t, err, out)
	info, err := os.Stat(filepath.Join(dir, "entry.xlsx"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestPreview_UnknownEntry(t *testing.T) {
	dir := initDeployment(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fixture.yaml"), []byte(previewFixture), 0o644))

	_, err := runEntrysync(t, dir, "preview", "--entry", "8", "--fixture", "fixture.yaml")
	assert.Error(t, err)
}
