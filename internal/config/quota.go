package config

import (
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// QuotaPolicy controls free-tier gating. It is loaded from quota.yml when
// present and falls back to the defaults the product launched with.
type QuotaPolicy struct {
	FreeMonthlyLimit int `mapstructure:"freeMonthlyLimit"`
	NudgeLimit       int `mapstructure:"nudgeLimit"`
}

func DefaultQuotaPolicy() QuotaPolicy {
	return QuotaPolicy{
		FreeMonthlyLimit: 5,
		NudgeLimit:       3,
	}
}

// QuotaPolicyHolder exposes the current policy and hot-reloads it when the
// config file changes on disk.
type QuotaPolicyHolder struct {
	current atomic.Value // holds QuotaPolicy
}

func NewQuotaPolicyHolder() (*QuotaPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("quota")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/versiful/config") // Volume-mounted config
	v.AddConfigPath("/etc/versiful")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("VERSIFUL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultQuotaPolicy()
	v.SetDefault("quota.freeMonthlyLimit", defaults.FreeMonthlyLimit)
	v.SetDefault("quota.nudgeLimit", defaults.NudgeLimit)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	holder := &QuotaPolicyHolder{}
	if err := holder.reload(v); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if err := holder.reload(v); err != nil {
			log.Printf("quota policy reload failed: %v", err)
		}
	})
	v.WatchConfig()

	return holder, nil
}

func (h *QuotaPolicyHolder) reload(v *viper.Viper) error {
	var policy QuotaPolicy
	if err := v.UnmarshalKey("quota", &policy); err != nil {
		return err
	}
	if policy.FreeMonthlyLimit <= 0 {
		policy.FreeMonthlyLimit = DefaultQuotaPolicy().FreeMonthlyLimit
	}
	if policy.NudgeLimit <= 0 {
		policy.NudgeLimit = DefaultQuotaPolicy().NudgeLimit
	}
	h.current.Store(policy)
	return nil
}

// Current returns the active quota policy.
func (h *QuotaPolicyHolder) Current() QuotaPolicy {
	if v, ok := h.current.Load().(QuotaPolicy); ok {
		return v
	}
	return DefaultQuotaPolicy()
}

// NewStaticQuotaPolicyHolder returns a holder pinned to the given policy.
// Intended for tests.
func NewStaticQuotaPolicyHolder(policy QuotaPolicy) *QuotaPolicyHolder {
	holder := &QuotaPolicyHolder{}
	holder.current.Store(policy)
	return holder
}
