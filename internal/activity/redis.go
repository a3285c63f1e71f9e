package activity

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// DefaultRedisKey names the list holding serialized entries.
const DefaultRedisKey = "blockpanel:activity"

type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	Key      string
	Limit    int
	TLS      RedisTLSConfig
}

type redisLog struct {
	client valkey.Client
	key    string
	limit  int
}

// NewRedis connects to a valkey/redis server and verifies it with PING.
func NewRedis(cfg RedisConfig) (Log, error) {
	if cfg.Address == "" {
		return nil, errors.New("activity: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("activity: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("activity: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("activity: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("activity: redis ping: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &redisLog{client: client, key: key, limit: limit}, nil
}

func (l *redisLog) Append(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("activity: redis marshal: %w", err)
	}
	cmds := valkey.Commands{
		l.client.B().Lpush().Key(l.key).Element(string(payload)).Build(),
		l.client.B().Ltrim().Key(l.key).Start(0).Stop(int64(l.limit - 1)).Build(),
	}
	for _, resp := range l.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("activity: redis append: %w", err)
		}
	}
	return nil
}

func (l *redisLog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > l.limit {
		limit = l.limit
	}
	resp := l.client.Do(ctx, l.client.B().Lrange().Key(l.key).Start(0).Stop(int64(limit-1)).Build())
	items, err := resp.AsStrSlice()
	if err != nil {
		if errors.Is(err, valkey.Nil) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("activity: redis lrange: %w", err)
	}
	out := make([]Entry, 0, len(items))
	for _, item := range items {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("activity: redis unmarshal: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (l *redisLog) Close(context.Context) error {
	l.client.Close()
	return nil
}
