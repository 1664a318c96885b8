package session

import "sort"

// presenceSet tracks who is in the active community room, keyed by stable
// identity so two participants sharing a display name never collapse into
// one entry.
type presenceSet struct {
	names map[string]string // identity -> display name
}

func newPresenceSet() *presenceSet {
	return &presenceSet{names: make(map[string]string)}
}

func (p *presenceSet) Add(identity, displayName string) {
	if identity == "" {
		return
	}
	if displayName == "" {
		displayName = "User"
	}
	p.names[identity] = displayName
}

func (p *presenceSet) Remove(identity string) {
	delete(p.names, identity)
}

func (p *presenceSet) Reset() {
	p.names = make(map[string]string)
}

// List returns display names sorted for stable rendering.
func (p *presenceSet) List() []string {
	out := make([]string, 0, len(p.names))
	for _, name := range p.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
