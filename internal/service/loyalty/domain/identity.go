// internal/service/loyalty/domain/identity.go
package domain

import (
	"fmt"
	"strings"
)

// IdentityKind 区分扫码者身份的两种形态
type IdentityKind string

const (
	IdentityAuthenticated IdentityKind = "authenticated" // 已登录用户，持有持久化的用户 ID
	IdentityAnonymous     IdentityKind = "anonymous"     // 匿名用户，只有设备范围内的令牌
)

// Identity 是一个带标签的变体：Authenticated(userID) | Anonymous(deviceToken)。
// 冷却门和印花发放都显式按 Kind 分派，而不是依赖 userID 是否为空。
type Identity struct {
	kind IdentityKind
	ref  string
}

// Authenticated 构造一个已登录身份
func Authenticated(userID string) Identity {
	return Identity{kind: IdentityAuthenticated, ref: strings.TrimSpace(userID)}
}

// Anonymous 构造一个匿名（设备）身份
func Anonymous(deviceToken string) Identity {
	return Identity{kind: IdentityAnonymous, ref: strings.TrimSpace(deviceToken)}
}

// ParseIdentity 从传输层的 (kind, ref) 还原身份
func ParseIdentity(kind, ref string) (Identity, error) {
	var id Identity
	switch IdentityKind(strings.ToLower(strings.TrimSpace(kind))) {
	case IdentityAuthenticated:
		id = Authenticated(ref)
	case IdentityAnonymous:
		id = Anonymous(ref)
	default:
		return Identity{}, fmt.Errorf("%w: unknown identity kind %q", ErrInvalidIdentity, kind)
	}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (i Identity) Kind() IdentityKind { return i.kind }

// Ref 返回用户 ID 或设备令牌
func (i Identity) Ref() string { return i.ref }

func (i Identity) IsAnonymous() bool { return i.kind == IdentityAnonymous }

// UserID 仅对已登录身份返回 true
func (i Identity) UserID() (string, bool) {
	if i.kind != IdentityAuthenticated {
		return "", false
	}
	return i.ref, true
}

// DeviceToken 仅对匿名身份返回 true
func (i Identity) DeviceToken() (string, bool) {
	if i.kind != IdentityAnonymous {
		return "", false
	}
	return i.ref, true
}

// Validate 检查身份是否完整
func (i Identity) Validate() error {
	if i.kind != IdentityAuthenticated && i.kind != IdentityAnonymous {
		return fmt.Errorf("%w: missing identity kind", ErrInvalidIdentity)
	}
	if i.ref == "" {
		return fmt.Errorf("%w: empty %s reference", ErrInvalidIdentity, i.kind)
	}
	return nil
}

func (i Identity) String() string {
	return string(i.kind) + ":" + i.ref
}
