// internal/pkg/nacos/client.go
package nacos

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

const defaultGroup = "DEFAULT_GROUP"

// Client 包装 Nacos 命名客户端，履约服务用它把自身注册为临时实例。
type Client struct {
	naming    naming_client.INamingClient
	namespace string
	group     string
}

// parseServerAddrs 解析 "ip1:port1,ip2:port2" 形式的服务端地址列表。
func parseServerAddrs(addrs string) ([]constant.ServerConfig, error) {
	var configs []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		host, portStr, ok := strings.Cut(addr, ":")
		if !ok {
			return nil, fmt.Errorf("invalid nacos address %q, want host:port", addr)
		}
		port, err := strconv.ParseUint(portStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid nacos port %q: %w", portStr, err)
		}
		configs = append(configs, *constant.NewServerConfig(host, port))
	}
	return configs, nil
}

// NewNacosClient 连接 Nacos 并返回客户端。
// namespace 为空时落到 public 命名空间，group 为空时落到默认分组。
func NewNacosClient(addrs, namespace, group string) (*Client, error) {
	if namespace == "" {
		log.Println("nacos namespace not set, using public namespace")
	}
	if group == "" {
		group = defaultGroup
	}

	serverConfigs, err := parseServerAddrs(addrs)
	if err != nil {
		return nil, err
	}

	clientConfig := *constant.NewClientConfig(
		constant.WithNamespaceId(namespace),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
	)

	naming, err := clients.NewNamingClient(vo.NacosClientParam{
		ClientConfig:  &clientConfig,
		ServerConfigs: serverConfigs,
	})
	if err != nil {
		return nil, fmt.Errorf("create nacos naming client: %w", err)
	}

	return &Client{naming: naming, namespace: namespace, group: group}, nil
}

// RegisterServiceInstance 把本实例注册为临时节点，心跳断开后 Nacos 会自动摘除。
func (c *Client) RegisterServiceInstance(serviceName, ip string, port int) error {
	ok, err := c.naming.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		GroupName:   c.group,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
	})
	if err != nil {
		return fmt.Errorf("register %s with nacos: %w", serviceName, err)
	}
	if !ok {
		return fmt.Errorf("nacos rejected registration for %s", serviceName)
	}
	log.Printf("registered %s with nacos at %s:%d", serviceName, ip, port)
	return nil
}

// DeregisterServiceInstance 在优雅停机时主动注销，避免流量打到正在退出的实例。
func (c *Client) DeregisterServiceInstance(serviceName, ip string, port int) error {
	if _, err := c.naming.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		GroupName:   c.group,
		Ephemeral:   true,
	}); err != nil {
		return fmt.Errorf("deregister %s with nacos: %w", serviceName, err)
	}
	log.Printf("deregistered %s from nacos (%s:%d)", serviceName, ip, port)
	return nil
}

// Close 留作占位：SDK v2 没有显式关闭，临时节点随心跳停止过期。
func (c *Client) Close() {}
