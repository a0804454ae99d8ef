package history

import "errors"

// node 基数树节点
type node struct {
	key      string
	value    interface{}
	children map[string]*node
	isLeaf   bool
}

// Tree 基数树，用于指标路径的节根匹配
type Tree struct {
	root *node
	size int
}

// NewTree 创建基数树
func NewTree() *Tree {
	return &Tree{
		root: &node{
			key:      "",
			children: make(map[string]*node),
		},
	}
}

// Insert 插入键值对
func (t *Tree) Insert(key string, value interface{}) error {
	if key == "" {
		return errors.New("键不能为空")
	}

	t.size++
	return t.insert(t.root, key, value)
}

// insert 递归插入键值对
func (t *Tree) insert(n *node, key string, value interface{}) error {
	// 查找最长公共前缀
	for prefix, child := range n.children {
		commonPrefix := longestCommonPrefix(prefix, key)
		if commonPrefix == "" {
			continue
		}

		// 公共前缀等于当前节点的键，继续向下
		if commonPrefix == prefix {
			return t.insert(child, key[len(prefix):], value)
		}

		// 公共前缀等于要插入的键，分裂后新节点即叶子
		// 其余情况也需要分裂，创建公共前缀中间节点
		newNode := &node{
			key:      commonPrefix,
			children: make(map[string]*node),
		}

		remainingPrefix := prefix[len(commonPrefix):]
		child.key = remainingPrefix
		newNode.children[remainingPrefix] = child

		delete(n.children, prefix)
		n.children[commonPrefix] = newNode

		if key == commonPrefix {
			newNode.value = value
			newNode.isLeaf = true
			return nil
		}

		remainingKey := key[len(commonPrefix):]
		newNode.children[remainingKey] = &node{
			key:      remainingKey,
			value:    value,
			children: make(map[string]*node),
			isLeaf:   true,
		}
		return nil
	}

	// 没有公共前缀，直接添加新节点
	n.children[key] = &node{
		key:      key,
		value:    value,
		children: make(map[string]*node),
		isLeaf:   true,
	}
	return nil
}

// Search 精确查找
func (t *Tree) Search(key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}
	return t.search(t.root, key)
}

func (t *Tree) search(n *node, key string) (interface{}, bool) {
	if key == "" && n.isLeaf {
		return n.value, true
	}

	for prefix, child := range n.children {
		if hasPrefix(key, prefix) {
			return t.search(child, key[len(prefix):])
		}
	}
	return nil, false
}

// LongestPrefix 返回是查询串前缀的最长已插入键
func (t *Tree) LongestPrefix(query string) (string, interface{}, bool) {
	var (
		bestKey   string
		bestValue interface{}
		found     bool
	)

	n := t.root
	consumed := ""
	for {
		if n.isLeaf {
			bestKey = consumed
			bestValue = n.value
			found = true
		}

		advanced := false
		for prefix, child := range n.children {
			if hasPrefix(query[len(consumed):], prefix) {
				consumed += prefix
				n = child
				advanced = true
				break
			}
		}
		if !advanced {
			break
		}
	}
	return bestKey, bestValue, found
}

// Size 已插入键的个数
func (t *Tree) Size() int {
	return t.size
}

// longestCommonPrefix 查找两个字符串的最长公共前缀
func longestCommonPrefix(a, b string) string {
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}

	for i := 0; i < minLen; i++ {
		if a[i] != b[i] {
			return a[:i]
		}
	}
	return a[:minLen]
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
