// internal/pkg/bootstrap/nacos.go
package bootstrap

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"

	"stampcard/internal/pkg/logger"
	"stampcard/internal/pkg/nacos"
)

var nacosConfigClient config_client.IConfigClient

// createNacosServerConfigs 解析 "ip1:port1,ip2:port2" 格式的地址
func createNacosServerConfigs(addrs string) ([]constant.ServerConfig, error) {
	var serverConfigs []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		parts := strings.Split(strings.TrimSpace(addr), ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid nacos address format: %s", addr)
		}
		port, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid port in nacos address: %s", parts[1])
		}
		serverConfigs = append(serverConfigs, *constant.NewServerConfig(parts[0], port))
	}
	return serverConfigs, nil
}

func createNacosClientConfig(namespaceId string) constant.ClientConfig {
	return *constant.NewClientConfig(
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
		constant.WithNamespaceId(namespaceId),
	)
}

// loadFromConfigCenter 从 Nacos 配置中心拉取 YAML，并监听后续变更。
// 变更后的配置整体替换当前配置；解析失败时保留旧配置。
func loadFromConfigCenter(ctx context.Context, addrs, namespace, group, dataID string) (*Config, error) {
	serverConfigs, err := createNacosServerConfigs(addrs)
	if err != nil {
		return nil, err
	}
	clientConfig := createNacosClientConfig(namespace)

	client, err := clients.NewConfigClient(vo.NacosClientParam{
		ClientConfig:  &clientConfig,
		ServerConfigs: serverConfigs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create nacos config client: %w", err)
	}
	nacosConfigClient = client

	content, err := client.GetConfig(vo.ConfigParam{DataId: dataID, Group: group})
	if err != nil {
		return nil, fmt.Errorf("failed to get config %s/%s from nacos: %w", group, dataID, err)
	}
	cfg, err := ParseConfig([]byte(content))
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)

	err = client.ListenConfig(vo.ConfigParam{
		DataId: dataID,
		Group:  group,
		OnChange: func(namespace, group, dataId, data string) {
			updated, err := ParseConfig([]byte(data))
			if err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("data_id", dataId).Msg("⚠️ ignoring invalid config from nacos")
				return
			}
			applyEnv(updated)
			setCurrentConfig(updated)
			logger.Ctx(ctx).Info().Str("data_id", dataId).Msg("🔄 config reloaded from nacos")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to listen config %s/%s: %w", group, dataID, err)
	}

	logger.Ctx(ctx).Info().Str("data_id", dataID).Str("group", group).Msg("✅ config loaded from nacos config center")
	return cfg, nil
}

// Init 加载配置：CONFIG_FILE 指定的 YAML 文件 + 环境变量；
// 设置了 NACOS_CONFIG_DATA_ID 时改用 Nacos 配置中心，并开启热更新。
func Init(ctx context.Context) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if dataID := getEnv("NACOS_CONFIG_DATA_ID", ""); dataID != "" {
		cfg, err = loadFromConfigCenter(ctx,
			getEnv("NACOS_SERVER_ADDRS", "localhost:8848"),
			getEnv("NACOS_NAMESPACE", ""),
			getEnv("NACOS_GROUP", "DEFAULT_GROUP"),
			dataID,
		)
	} else {
		cfg, err = LoadConfig(getEnv("CONFIG_FILE", "config.yaml"))
	}
	if err != nil {
		return nil, err
	}
	setCurrentConfig(cfg)
	return cfg, nil
}

// NewNamingClient 按 NACOS_SERVER_ADDRS / NACOS_NAMESPACE / NACOS_GROUP 创建命名客户端
func NewNamingClient() (*nacos.Client, error) {
	serverConfigs, err := createNacosServerConfigs(getEnv("NACOS_SERVER_ADDRS", "localhost:8848"))
	if err != nil {
		return nil, err
	}
	clientConfig := createNacosClientConfig(getEnv("NACOS_NAMESPACE", ""))
	return nacos.NewNacosClientWithConfigs(serverConfigs, &clientConfig, getEnv("NACOS_GROUP", "DEFAULT_GROUP"))
}
