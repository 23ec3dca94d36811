package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/entrysync/internal/config"
	"github.com/cleared-dev/entrysync/internal/encode"
	"github.com/cleared-dev/entrysync/internal/lock"
	"github.com/cleared-dev/entrysync/internal/logging"
	"github.com/cleared-dev/entrysync/internal/notify"
	"github.com/cleared-dev/entrysync/internal/pipeline"
	"github.com/cleared-dev/entrysync/internal/source"
	"github.com/cleared-dev/entrysync/internal/transport"
)

func testConfig() *config.Config {
	cfg := config.Default("ACME")
	cfg.Pipeline.SystemStartDate = "2025-01-01"
	cfg.Pipeline.MinLag = 0
	cfg.Partners[0].Identifiers = []string{"IMP1"}
	cfg.Partners[0].Counter = "acme_billing_counter"
	return cfg
}

func fixture() source.Fixture {
	logged := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	return source.Fixture{
		Entry: source.EntryRow{
			ID: 5, EntryNumber: "11981000000055", EntryType: "AB", Currency: "CAD",
			FileLoggedAt: logged, LastExportedFromSource: logged,
		},
		Identifiers: map[string][]string{"Fenix Importer": {"IMP1"}},
		Tariffs: []source.TariffRow{
			{ID: 1, CustomsLine: "1", Subheader: 1, LineNumber: 1, LineType: "C", Duty: "10.00", ValueForDuty: "100.00"},
		},
	}
}

func TestNew_RunsConfiguredPipeline(t *testing.T) {
	dir := t.TempDir()
	a, err := New(context.Background(), testConfig(), logging.Nop(), Options{
		BaseDir: dir,
		Source:  source.NewMemory(fixture()),
	})
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Count(pipeline.StatusSent))
	name := res.Outcomes[0].FileName
	assert.Equal(t, int64(1), res.Outcomes[0].BatchNumber)

	assert.FileExists(t, filepath.Join(dir, "outbox", "test", name))
	assert.FileExists(t, filepath.Join(dir, "archive", name))
	assert.FileExists(t, filepath.Join(dir, "logs", "runs.csv"))
	assert.FileExists(t, filepath.Join(dir, "entrysync.db"))
}

func TestNew_RequiresSource(t *testing.T) {
	_, err := New(context.Background(), testConfig(), logging.Nop(), Options{BaseDir: t.TempDir()})
	assert.ErrorContains(t, err, "source.dsn")
}

func TestNew_BadStartDate(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.SystemStartDate = ""
	_, err := New(context.Background(), cfg, logging.Nop(), Options{BaseDir: t.TempDir(), Source: source.NewMemory()})
	assert.Error(t, err)
}

func TestPartners(t *testing.T) {
	cfg := testConfig()
	cfg.Partners[0].Format = "xml"
	cfg.Partners[0].SequencePrefix = "7"
	cfg.Partners[0].Namespace = "urn:x"

	mb := transport.DirMailbox{Root: t.TempDir()}
	got, err := Partners(cfg.Partners, encode.DefaultRegistry(), mb, ".")
	require.NoError(t, err)
	require.Len(t, got, 1)
	p := got[0]
	assert.Equal(t, "xml", p.Encoder.Format())
	assert.Equal(t, byte('7'), p.PrefixDigit)
	assert.Equal(t, "urn:x", p.Settings.Namespace)
	assert.Equal(t, "America/Toronto", p.Location.String())
	assert.Equal(t, mb, p.Mailbox)
}

func TestPartners_Errors(t *testing.T) {
	cfg := testConfig()
	cfg.Partners[0].Format = "edifact"
	_, err := Partners(cfg.Partners, encode.DefaultRegistry(), nil, ".")
	assert.ErrorContains(t, err, "unknown file format")

	cfg = testConfig()
	cfg.Partners[0].EncryptKeyFile = "missing.asc"
	_, err = Partners(cfg.Partners, encode.DefaultRegistry(), nil, t.TempDir())
	assert.ErrorContains(t, err, "partner key")
}

func TestMailbox(t *testing.T) {
	cfg := testConfig().Transport
	cfg.Environment = "production"
	mb, closeFn, err := Mailbox(context.Background(), cfg, "/srv")
	require.NoError(t, err)
	require.NoError(t, closeFn())
	assert.Equal(t, transport.DirMailbox{Root: "/srv/outbox", Folder: "production"}, mb)

	cfg.Kind = "ftp"
	_, _, err = Mailbox(context.Background(), cfg, ".")
	assert.Error(t, err)
}

func TestNotifier(t *testing.T) {
	n, err := Notifier(config.NotifyConfig{Provider: "log"}, logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, notify.LogNotifier{}, n)

	n, err = Notifier(config.NotifyConfig{Provider: "sendgrid", APIKey: "k", From: "a@b.c", To: []string{"ops@b.c"}}, logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, &notify.SendGrid{}, n)

	_, err = Notifier(config.NotifyConfig{Provider: "sendgrid"}, logging.Nop())
	assert.Error(t, err)

	_, err = Notifier(config.NotifyConfig{Provider: "pager"}, logging.Nop())
	assert.Error(t, err)
}

func TestLocker_DefaultsToLocal(t *testing.T) {
	l, closeFn, err := Locker(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &lock.Local{}, l)
}

func TestResolve(t *testing.T) {
	assert.Equal(t, filepath.Join("base", "x"), Resolve("base", "x"))
	abs := filepath.Join(os.TempDir(), "x")
	assert.Equal(t, abs, Resolve("base", abs))
	assert.Equal(t, "", Resolve("base", ""))
}
