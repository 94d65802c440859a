package peer

import (
	"container/list"

	"github.com/btcnode/btcnode/wire"
)

// mruInventoryMap bounds the memory a peer spends remembering which
// inventory it has already announced or received, evicting the oldest
// entry once the limit is reached.
type mruInventoryMap struct {
	invList *list.List
	invMap  map[wire.InvVect]*list.Element
	limit   uint
}

func newMruInventoryMap(limit uint) *mruInventoryMap {
	return &mruInventoryMap{
		invList: list.New(),
		invMap:  make(map[wire.InvVect]*list.Element),
		limit:   limit,
	}
}

// Exists returns whether the inventory is in the map.
func (m *mruInventoryMap) Exists(iv *wire.InvVect) bool {
	_, exists := m.invMap[*iv]
	return exists
}

// Add marks the inventory as known, evicting the least-recently-used entry
// if the map would otherwise exceed its limit.
func (m *mruInventoryMap) Add(iv *wire.InvVect) {
	if m.limit == 0 {
		return
	}
	if node, exists := m.invMap[*iv]; exists {
		m.invList.MoveToFront(node)
		return
	}
	if uint(m.invList.Len())+1 > m.limit {
		node := m.invList.Back()
		if node != nil {
			m.invList.Remove(node)
			delete(m.invMap, node.Value.(wire.InvVect))
		}
	}
	node := m.invList.PushFront(*iv)
	m.invMap[*iv] = node
}
