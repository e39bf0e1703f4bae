// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"stampcard/internal/pkg/logger"
)

// Config 是 Redis 连接配置
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Client 封装了 go-redis 客户端，并管理按名称注册的 Lua 脚本。
type Client struct {
	client *redis.Client

	scriptsMu sync.RWMutex
	scripts   map[string]*redis.Script
}

// NewClient 创建客户端并做一次 PING 检查
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	logger.Ctx(ctx).Info().Str("addr", cfg.Addr).Msg("✅ Successfully connected to Redis.")
	return Wrap(rdb), nil
}

// Wrap 包装一个已有的 go-redis 客户端（测试中配合 miniredis 使用）。
func Wrap(rdb *redis.Client) *Client {
	return &Client{
		client:  rdb,
		scripts: make(map[string]*redis.Script),
	}
}

// GetClient 暴露底层客户端，用于 pipeline 等高级操作
func (c *Client) GetClient() *redis.Client {
	return c.client
}

// LoadScriptFromContent 以名称注册一段 Lua 脚本。
// 脚本通过 EVALSHA 执行，服务端缓存缺失时 go-redis 会自动回退到 EVAL。
func (c *Client) LoadScriptFromContent(name, content string) error {
	if name == "" || content == "" {
		return fmt.Errorf("script name and content must not be empty")
	}
	c.scriptsMu.Lock()
	defer c.scriptsMu.Unlock()
	c.scripts[name] = redis.NewScript(content)
	return nil
}

// RunScript 执行已注册的脚本
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.scriptsMu.RLock()
	script, ok := c.scripts[name]
	c.scriptsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("redis script '%s' is not loaded", name)
	}
	return script.Run(ctx, c.client, keys, args...).Result()
}

// Close 关闭连接池
func (c *Client) Close() error {
	return c.client.Close()
}
