package config

import (
	"sync/atomic"
	"time"

	"github.com/gammacoder/ceph/internal/optracker"
)

var _ optracker.Settings = (*Live)(nil)

// Live is a swappable Config that satisfies optracker.Settings.
//
// The tracker reads each tunable at call time, so a Store or Reload takes
// effect on the next check, dump or insert. Individual getters may observe
// different generations if a swap races with them.
//
// Thread-safety: safe for concurrent use.
type Live struct {
	cur atomic.Pointer[Config]
}

// NewLive returns a Live holding cfg. cfg is not validated.
func NewLive(cfg Config) *Live {
	l := &Live{}
	l.cur.Store(&cfg)
	return l
}

// Config returns the current generation.
func (l *Live) Config() Config {
	return *l.cur.Load()
}

// Store validates cfg and makes it current. On error the current
// generation is kept.
func (l *Live) Store(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	l.cur.Store(&cfg)
	return nil
}

// Reload loads path and makes it current. On error the current generation
// is kept.
func (l *Live) Reload(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	l.cur.Store(&cfg)
	return nil
}

func (l *Live) HistorySize() int {
	return l.cur.Load().HistorySize
}

func (l *Live) HistoryDuration() time.Duration {
	return time.Duration(l.cur.Load().HistoryDuration)
}

func (l *Live) ComplaintTime() time.Duration {
	return time.Duration(l.cur.Load().ComplaintTime)
}

func (l *Live) LogThreshold() int {
	return l.cur.Load().LogThreshold
}
