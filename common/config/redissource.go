package config

import (
	"strings"

	"github.com/mediocregopher/radix/v3"
	"github.com/sirupsen/logrus"
)

// RedisSource reads options from the "warden_config" redis hash, allowing
// settings to be changed without restarting every process.
type RedisSource struct {
	Pool *radix.Pool
}

func (rs *RedisSource) GetValue(key string) interface{} {
	prefixStripped := strings.TrimPrefix(key, "warden.")

	var v string
	err := rs.Pool.Do(radix.Cmd(&v, "HGET", "warden_config", prefixStripped))
	if err != nil {
		logrus.WithError(err).Error("[redis_config_source] failed retrieving value")
		return nil
	}

	if v == "" {
		return nil
	}

	return v
}

func (rs *RedisSource) SaveValue(key, value string) error {
	prefixStripped := strings.TrimPrefix(key, "warden.")

	return rs.Pool.Do(radix.Cmd(nil, "HSET", "warden_config", prefixStripped, value))
}

func (rs *RedisSource) Name() string {
	return "redis"
}
