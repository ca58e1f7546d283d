package brin

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// Desc is the cached per-open-index descriptor: attributes, opclass info and
// the derived layout of stored datums used by the tuple codec.
type Desc struct {
	Attrs     []Attribute
	Opclasses []Opclass
	Info      []OpcInfo

	// TotalStored is the sum of NStored over all columns.
	TotalStored int
	// batch marks columns whose opclass answers all keys in one call.
	batch []bool
}

// BuildDesc derives the descriptor for a column set. It verifies every
// opclass exposes a consistent procedure and records which ABI it uses.
func BuildDesc(attrs []Attribute, opclasses []Opclass) (*Desc, error) {
	if len(attrs) != len(opclasses) {
		return nil, fmt.Errorf("brin: %d attributes but %d opclasses", len(attrs), len(opclasses))
	}
	d := &Desc{
		Attrs:     attrs,
		Opclasses: opclasses,
		Info:      make([]OpcInfo, len(attrs)),
		batch:     make([]bool, len(attrs)),
	}
	for i, oc := range opclasses {
		info := oc.OpcInfo(attrs[i])
		if info.NStored < 1 || len(info.StoredLens) != info.NStored {
			return nil, fmt.Errorf("brin: opclass for %q reports inconsistent storage (%d stored, %d lens)",
				attrs[i].Name, info.NStored, len(info.StoredLens))
		}
		d.Info[i] = info
		d.TotalStored += info.NStored

		_, perKey := oc.(KeyConsistent)
		_, batch := oc.(BatchConsistent)
		if !perKey && !batch {
			return nil, fmt.Errorf("%w: column %q", ErrNoConsistentProc, attrs[i].Name)
		}
		d.batch[i] = batch
	}
	return d, nil
}

func (d *Desc) NumAttrs() int { return len(d.Attrs) }

// descCache keeps descriptors across statements, keyed by index name.
var descCache *ristretto.Cache[string, *Desc]

func init() {
	var err error
	descCache, err = ristretto.NewCache(&ristretto.Config[string, *Desc]{
		NumCounters: 1 << 12,
		MaxCost:     1 << 10,
		BufferItems: 64,
	})
	if err != nil {
		panic(err)
	}
}

func lookupDesc(name string, build func() (*Desc, error)) (*Desc, error) {
	if d, ok := descCache.Get(name); ok {
		return d, nil
	}
	d, err := build()
	if err != nil {
		return nil, err
	}
	descCache.Set(name, d, 1)
	return d, nil
}

func dropDesc(name string) {
	descCache.Del(name)
}
