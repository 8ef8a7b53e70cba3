// internal/zookeeper/conn.go
package zookeeper

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

// Conn 是对 zk.Conn 的薄封装，统一连接参数。
type Conn struct {
	*zk.Conn
}

// Connect 建立到 ZooKeeper 集群的连接。
// addrs 格式为 "ip1:port1,ip2:port2"。
func Connect(addrs string) (*Conn, error) {
	conn, _, err := zk.Connect(strings.Split(addrs, ","), 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper at %s: %w", addrs, err)
	}
	return &Conn{Conn: conn}, nil
}
