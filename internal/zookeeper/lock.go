// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-zookeeper/zk"
)

const (
	leaseRoot = "/stampcard_leases" // 所有租约的根节点
)

// Lease 是基于临时顺序节点的非阻塞租约。
// 序号最小的节点持有租约；会话断开时节点自动删除，租约随之释放。
type Lease struct {
	conn nodeStore
	path string // 租约路径，例如 /stampcard_leases/expiry-sweep

	mu        sync.Mutex
	leaseNode string // 持有租约时自己创建的节点路径
}

// NewLease 创建租约实例并确保父节点存在
func NewLease(conn *Conn, resourceID string) (*Lease, error) {
	return newLease(conn, resourceID)
}

func newLease(conn nodeStore, resourceID string) (*Lease, error) {
	if err := ensurePath(conn, leaseRoot); err != nil {
		return nil, err
	}
	path := leaseRoot + "/" + resourceID
	if err := ensurePath(conn, path); err != nil {
		return nil, err
	}
	return &Lease{conn: conn, path: path}, nil
}

// TryAcquire 尝试获取租约，不等待。已被其他实例持有时返回 (false, nil)。
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.leaseNode != "" {
		exists, _, err := l.conn.Exists(l.leaseNode)
		if err != nil {
			return false, fmt.Errorf("failed to check lease node: %w", err)
		}
		if exists {
			return true, nil
		}
		l.leaseNode = ""
	}

	// 1. 在租约路径下创建一个临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lease-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return false, fmt.Errorf("failed to create sequential node: %w", err)
	}

	// 2. 获取所有子节点，按序号排序
	children, _, err := l.conn.Children(l.path)
	if err != nil {
		_ = l.conn.Delete(nodePath, -1)
		return false, fmt.Errorf("failed to get children nodes: %w", err)
	}
	if len(children) == 0 {
		return false, errors.New("lease node disappeared right after creation")
	}
	sort.Slice(children, func(i, j int) bool {
		return sequenceOf(children[i]) < sequenceOf(children[j])
	})

	// 3. 自己是最小节点则持有租约，否则立即退出竞争
	myNodeName := strings.TrimPrefix(nodePath, l.path+"/")
	if children[0] == myNodeName {
		l.leaseNode = nodePath
		return true, nil
	}
	if err := l.conn.Delete(nodePath, -1); err != nil && err != zk.ErrNoNode {
		return false, fmt.Errorf("failed to withdraw lease node: %w", err)
	}
	return false, nil
}

// Release 释放租约
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.leaseNode == "" {
		return nil
	}
	err := l.conn.Delete(l.leaseNode, -1)
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("failed to delete lease node: %w", err)
	}
	l.leaseNode = ""
	return nil
}

// sequenceOf 取出节点名末尾的 10 位序号；受保护节点带有 GUID 前缀，不能直接按名字排序
func sequenceOf(name string) string {
	if len(name) < 10 {
		return name
	}
	return name[len(name)-10:]
}
