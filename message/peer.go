package message

import "fmt"

// Peer identifies a participant by group name and numeric id within that
// group. Peers are value-equal on (Group, ID); ordering is lexicographic on
// Group then ID (spec §3).
type Peer struct {
	Group string
	ID    uint64
}

func NewPeer(group string, id uint64) Peer { return Peer{Group: group, ID: id} }

func (p Peer) String() string { return fmt.Sprintf("%s/%d", p.Group, p.ID) }

func (p Peer) Equal(o Peer) bool { return p.Group == o.Group && p.ID == o.ID }

// Less orders peers lexicographically on (Group, ID), used for deterministic
// iteration over peer sets (e.g. domain consistency checks, test fixtures).
func (p Peer) Less(o Peer) bool {
	if p.Group != o.Group {
		return p.Group < o.Group
	}
	return p.ID < o.ID
}

func (p Peer) IsZero() bool { return p.Group == "" && p.ID == 0 }
