package cache

import (
	"context"

	"github.com/google/uuid"
)

// Store 负责管理单槽位持久化缓存。磁盘布局：
//
//	<DataDir>/cache.bin    # magic + key + length + checksum + entry
//
// 所有方法在同一个 Store 实例上互斥执行。
type Store interface {
	// Get 仅在槽位 key 与请求 key 完全一致时返回条目；格式不符或损坏视为不存在。
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put 无条件覆盖槽位，旧 key 的条目随之被淘汰。
	Put(ctx context.Context, key string, entry []byte) error

	// Remove 仅当槽位 key 匹配时删除备份文件，否则不做任何事。
	Remove(ctx context.Context, key string) error

	// Update 在锁内读取当前条目并以 fn 的返回值替换；fn 返回 nil 表示删除。
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// UpdateFunc 接收当前条目（不存在时为 nil），返回替换值。
type UpdateFunc func(current []byte) []byte

// Key 将请求标识映射为 name-based (v3) UUID，相同字符串总是得到相同 key。
// 哈希输入带 NameSpaceURL 前缀，因此与只对原始字节做 MD5 的 v3 实现得到的值不同，
// 旧格式的缓存文件会按 key 不匹配处理。
func Key(s string) uuid.UUID {
	return uuid.NewMD5(uuid.NameSpaceURL, []byte(s))
}
