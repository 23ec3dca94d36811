package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/cleared-dev/entrysync/internal/config"
	"github.com/cleared-dev/entrysync/internal/encode"
	"github.com/cleared-dev/entrysync/internal/lock"
	"github.com/cleared-dev/entrysync/internal/logging"
	"github.com/cleared-dev/entrysync/internal/notify"
	"github.com/cleared-dev/entrysync/internal/pipeline"
	"github.com/cleared-dev/entrysync/internal/transport"
)

func noClose() error { return nil }

// Mailbox builds the configured drop target for the active environment.
func Mailbox(ctx context.Context, cfg config.TransportConfig, baseDir string) (transport.Mailbox, func() error, error) {
	switch cfg.Kind {
	case "dir":
		return transport.DirMailbox{Root: Resolve(baseDir, cfg.Root), Folder: cfg.Folder()}, noClose, nil
	case "gcs":
		client, err := transport.NewGCSClient(ctx, cfg.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		mb := transport.GCSMailbox{Client: client, Bucket: cfg.Bucket, Prefix: cfg.Prefix, Folder: cfg.Folder()}
		return mb, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

// Partners resolves partner configs into pipeline partners sharing mailbox.
// Partners with an encryption key get their own encrypting wrapper.
func Partners(cfgs []config.PartnerConfig, reg *encode.Registry, mailbox transport.Mailbox, baseDir string) ([]pipeline.Partner, error) {
	out := make([]pipeline.Partner, 0, len(cfgs))
	for _, pc := range cfgs {
		enc, err := reg.Lookup(pc.Format)
		if err != nil {
			return nil, fmt.Errorf("partner %s: %w", pc.ID, err)
		}
		loc, err := pc.Location()
		if err != nil {
			return nil, err
		}

		mb := mailbox
		if pc.EncryptKeyFile != "" {
			keys, err := transport.LoadPublicKey(Resolve(baseDir, pc.EncryptKeyFile))
			if err != nil {
				return nil, fmt.Errorf("partner %s: %w", pc.ID, err)
			}
			mb = transport.Encrypting{Next: mailbox, Recipients: keys}
		}

		out = append(out, pipeline.Partner{
			ID:                 pc.ID,
			TradingPartner:     pc.TradingPartner,
			Country:            pc.Country,
			Form:               pc.Form,
			BrokerID:           pc.BrokerID,
			IdentifierSystem:   pc.IdentifierSystem,
			Identifiers:        pc.Identifiers,
			ExcludedEntryTypes: pc.ExcludedEntryTypes,
			Location:           loc,
			PrefixDigit:        pc.PrefixDigit(),
			Counter:            pc.Counter,
			Encoder:            enc,
			Settings: encode.Settings{
				Location:       loc,
				Namespace:      pc.Namespace,
				SchemaLocation: pc.SchemaLocation,
			},
			Mailbox: mb,
		})
	}
	return out, nil
}

// Notifier builds the failure notifier for cfg.Provider.
func Notifier(cfg config.NotifyConfig, log *logging.Logger) (notify.Notifier, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "log":
		return notify.LogNotifier{Log: log.With("component", "notify")}, nil
	case "sendgrid":
		return notify.NewSendGrid(log, notify.SendGridConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			From:       cfg.From,
			FromName:   cfg.FromName,
			To:         cfg.To,
			MaxRetries: 4,
		})
	default:
		return nil, fmt.Errorf("unknown notify provider %q", cfg.Provider)
	}
}

// Locker returns a redis lock when an address is configured and an
// in-process lock otherwise.
func Locker(ctx context.Context, cfg config.RedisConfig) (lock.Locker, func() error, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return lock.NewLocal(), noClose, nil
	}
	r, err := lock.NewRedis(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}
