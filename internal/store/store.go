package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Store 定义了核心所依赖的实时存储能力。
// 存储按层级路径（"a/b/c"）寻址，每个叶子是一段 JSON 值，
// 冲突策略为叶子级别的 last-write-wins。任何实现（Redis、内存）
// 只要满足按路径有序的订阅语义即可互换。
type Store interface {
	// Write 对指定路径执行 upsert（叶子级 last-write-wins）。
	Write(ctx context.Context, path string, value interface{}) error

	// WriteWithServerTimestamp 与 Write 相同，但在提交时把 value 中
	// 等于 ServerTimestamp 哨兵值的字段替换为存储端分配的单调递增
	// 时间戳（毫秒），并返回该时间戳。
	WriteWithServerTimestamp(ctx context.Context, path string, value map[string]interface{}) (int64, error)

	// Read 一次性读取指定路径的叶子值。路径不存在时返回 ErrAbsent。
	Read(ctx context.Context, path string) (json.RawMessage, error)

	// ReadTree 一次性读取指定路径下的整棵子树。
	ReadTree(ctx context.Context, path string) (Snapshot, error)

	// Subscribe 订阅指定路径下的子树：立即用当前快照回调一次，
	// 之后每次该子树内有变更都会按提交顺序回调。
	// 返回的 CancelFunc 必须被显式调用以结束订阅。
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (CancelFunc, error)

	// Remove 删除指定路径及其整棵子树。
	Remove(ctx context.Context, path string) error

	// PushKey 生成一个按到达顺序排序的全局唯一 key。
	PushKey(ctx context.Context, path string) (string, error)
}

// Toggler 是可选的存储扩展：原子地翻转一个布尔叶子。
// guardPath 不存在时翻转退化为无操作（返回 false 且无错误），
// 用于避免对已删除记录的迟到写入重建记录。
// 不支持该扩展的实现由调用方回退到读-改-写序列。
type Toggler interface {
	Toggle(ctx context.Context, guardPath, flagPath string) (bool, error)
}

// Snapshot 表示某个路径下子树的一次完整取值。
// key 是相对于订阅路径的剩余路径；订阅路径本身即叶子时 key 为 ""。
type Snapshot map[string]json.RawMessage

// CancelFunc 取消一个订阅。可以安全地多次调用。
type CancelFunc func()

// ErrAbsent 表示读取的路径不存在。
var ErrAbsent = errors.New("store: path absent")

type serverTimestamp struct{}

// ServerTimestamp 是占位哨兵值：WriteWithServerTimestamp 在提交时
// 将其替换为存储端分配的时间戳。
var ServerTimestamp = serverTimestamp{}

// ResolveTimestamps 返回 value 的副本，其中所有 ServerTimestamp
// 哨兵字段都被替换为 ts。供各实现在提交前调用。
func ResolveTimestamps(value map[string]interface{}, ts int64) map[string]interface{} {
	out := make(map[string]interface{}, len(value))
	for k, v := range value {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = ts
		} else {
			out[k] = v
		}
	}
	return out
}

// HasServerTimestamp 报告 value 是否包含哨兵字段。
func HasServerTimestamp(value map[string]interface{}) bool {
	for _, v := range value {
		if _, ok := v.(serverTimestamp); ok {
			return true
		}
	}
	return false
}

// IsChild 报告 leaf 是否等于 path 或位于 path 的子树内。
func IsChild(path, leaf string) bool {
	return leaf == path || strings.HasPrefix(leaf, path+"/")
}

// RelPath 返回 leaf 相对于 base 的剩余路径；leaf == base 时返回 ""。
func RelPath(base, leaf string) string {
	if leaf == base {
		return ""
	}
	return strings.TrimPrefix(leaf, base+"/")
}
