package proto

import "strconv"

// Node describes one metadata server of the cluster. The slot of a node in
// the member list is its server id; partition addressing is computed against
// that ordering, so the list must be identical on every node and client.
type Node struct {
	ID   ServerID `json:"id"`
	Addr string   `json:"addr"`
	Port uint32   `json:"port"`
}

func (n *Node) Address() string {
	return n.Addr + ":" + strconv.Itoa(int(n.Port))
}
