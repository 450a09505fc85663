// Package config loads the storage core's [storage] settings from an ini
// file, the way server/conf/config.go loads the teacher's [mysqld] section.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/cloudsql/storagecore/internal/txn"
)

// Config holds the storage core's tunables. Fields mirror spec.md's
// defaults (PAGE_SIZE 4096, 16-page WAL buffer, 30ms flush tick) but are
// overridable per deployment.
type Config struct {
	Raw *ini.File

	DataDir string `default:"./data"`
	PageSize uint32 `default:"4096"`

	WALPath             string `default:"wal.log"`
	WALBufferPages      int    `default:"16"`
	WALFlushIntervalMS  int    `default:"30"`

	LockWaitTimeoutMS int    `default:"0"` // 0 = block indefinitely
	DefaultIsolation  string `default:"repeatable_read"`
}

func Default() *Config {
	return &Config{
		Raw:                ini.Empty(),
		DataDir:            "./data",
		PageSize:           4096,
		WALPath:            "wal.log",
		WALBufferPages:     16,
		WALFlushIntervalMS: 30,
		LockWaitTimeoutMS:  0,
		DefaultIsolation:   "repeatable_read",
	}
}

// Load reads path, falling back to Default() for any key the [storage]
// section omits. A missing file is not an error: the caller gets defaults,
// matching the page server's "open is idempotent, absent file is created"
// posture rather than the teacher's os.Exit-on-missing-config behavior
// (appropriate for a library, not a standalone server process).
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := ini.LooseLoad(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: load %s", path)
	}
	cfg.Raw = raw

	sec := raw.Section("storage")
	cfg.DataDir = sec.Key("data_dir").MustString(cfg.DataDir)
	cfg.PageSize = uint32(sec.Key("page_size").MustInt(int(cfg.PageSize)))
	cfg.WALPath = sec.Key("wal_path").MustString(cfg.WALPath)
	cfg.WALBufferPages = sec.Key("wal_buffer_pages").MustInt(cfg.WALBufferPages)
	cfg.WALFlushIntervalMS = sec.Key("wal_flush_interval_ms").MustInt(cfg.WALFlushIntervalMS)
	cfg.LockWaitTimeoutMS = sec.Key("lock_wait_timeout_ms").MustInt(cfg.LockWaitTimeoutMS)
	cfg.DefaultIsolation = sec.Key("default_isolation").MustString(cfg.DefaultIsolation)
	return cfg, nil
}

func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.WALFlushIntervalMS) * time.Millisecond
}

func (c *Config) LockWaitTimeout() time.Duration {
	if c.LockWaitTimeoutMS <= 0 {
		return 0
	}
	return time.Duration(c.LockWaitTimeoutMS) * time.Millisecond
}

// ParseIsolation maps a [storage] default_isolation string onto txn's
// Isolation enum, defaulting to REPEATABLE READ on anything unrecognized.
func ParseIsolation(s string) txn.Isolation {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read_uncommitted", "read-uncommitted":
		return txn.ReadUncommitted
	case "read_committed", "read-committed":
		return txn.ReadCommitted
	case "serializable":
		return txn.Serializable
	default:
		return txn.RepeatableRead
	}
}
