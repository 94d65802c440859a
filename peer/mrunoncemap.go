package peer

import "container/list"

// mruNonceMap remembers the nonces this node has sent in recent version
// messages so a reply carrying one of them back can be recognized as a
// self-connection and refused.
type mruNonceMap struct {
	nonceList *list.List
	nonceMap  map[uint64]*list.Element
	limit     uint
}

func newMruNonceMap(limit uint) *mruNonceMap {
	return &mruNonceMap{
		nonceList: list.New(),
		nonceMap:  make(map[uint64]*list.Element),
		limit:     limit,
	}
}

// Exists returns whether the nonce is known.
func (m *mruNonceMap) Exists(nonce uint64) bool {
	_, exists := m.nonceMap[nonce]
	return exists
}

// Add records the nonce, evicting the oldest if the map is at its limit.
func (m *mruNonceMap) Add(nonce uint64) {
	if m.limit == 0 {
		return
	}
	if node, exists := m.nonceMap[nonce]; exists {
		m.nonceList.MoveToFront(node)
		return
	}
	if uint(m.nonceList.Len())+1 > m.limit {
		node := m.nonceList.Back()
		if node != nil {
			m.nonceList.Remove(node)
			delete(m.nonceMap, node.Value.(uint64))
		}
	}
	node := m.nonceList.PushFront(nonce)
	m.nonceMap[nonce] = node
}
