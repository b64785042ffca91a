package terminal

import (
	"sort"

	"github.com/derekparker/trie"

	"github.com/dmisim/dmisim/pkg/dm"
)

var registerNames = func() *trie.Trie {
	t := trie.New()
	for _, r := range dm.HartRegisters() {
		if _, ok := t.Find(r.Name); !ok {
			t.Add(r.Name, r.Regno)
		}
	}
	return t
}()

// completeRegister returns the hart register names starting with prefix.
func completeRegister(prefix string) []string {
	r := registerNames.PrefixSearch(prefix)
	sort.Strings(r)
	return r
}
