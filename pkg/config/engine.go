package config

import (
	"os"
	"time"

	"heapdb/pkg/page"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Engine holds the tunables of one database instance.
type Engine struct {
	PageSize       int
	MaxPages       int
	LockWait       time.Duration
	LockWaitJitter int
	LockAttempts   int
	DataDir        string
	LogLevel       string
}

// Default returns the built-in settings.
func Default() Engine {
	return Engine{
		PageSize:       page.DefaultSize,
		MaxPages:       MaxPagesInBuffer,
		LockWait:       LockWait,
		LockWaitJitter: LockWaitJitter,
		LockAttempts:   LockAttempts,
		DataDir:        DataDir,
		LogLevel:       "warn",
	}
}

// Load reads settings from an INI file. Keys that are missing keep their defaults, and
// a missing file yields Default().
//
//	[engine]
//	page_size = 4096
//	max_pages = 32
//	data_dir  = data
//
//	[locks]
//	wait        = 10ms
//	wait_jitter = 5
//	attempts    = 3
//
//	[logs]
//	level = warn
func Load(path string) (Engine, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	raw, err := ini.Load(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "load config %s", path)
	}
	cfg.apply(raw)
	return cfg, cfg.Validate()
}

func (cfg *Engine) apply(raw *ini.File) {
	engine := raw.Section("engine")
	cfg.PageSize = engine.Key("page_size").MustInt(cfg.PageSize)
	cfg.MaxPages = engine.Key("max_pages").MustInt(cfg.MaxPages)
	cfg.DataDir = engine.Key("data_dir").MustString(cfg.DataDir)

	locks := raw.Section("locks")
	cfg.LockWait = locks.Key("wait").MustDuration(cfg.LockWait)
	cfg.LockWaitJitter = locks.Key("wait_jitter").MustInt(cfg.LockWaitJitter)
	cfg.LockAttempts = locks.Key("attempts").MustInt(cfg.LockAttempts)

	cfg.LogLevel = raw.Section("logs").Key("level").MustString(cfg.LogLevel)
}

// Validate rejects settings the engine cannot run with.
func (cfg Engine) Validate() error {
	switch {
	case cfg.PageSize <= 0:
		return errors.Errorf("page_size must be positive, got %d", cfg.PageSize)
	case cfg.MaxPages <= 0:
		return errors.Errorf("max_pages must be positive, got %d", cfg.MaxPages)
	case cfg.LockWait <= 0:
		return errors.Errorf("lock wait must be positive, got %v", cfg.LockWait)
	case cfg.LockWaitJitter < 1:
		return errors.Errorf("wait_jitter must be at least 1, got %d", cfg.LockWaitJitter)
	case cfg.LockAttempts < 1:
		return errors.Errorf("attempts must be at least 1, got %d", cfg.LockAttempts)
	}
	return nil
}
