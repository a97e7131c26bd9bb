package neighbor

import (
	"github.com/hostinger/nd6relay/internal/nbrtable"
)

// Table is a store of neighbor records keyed by link-layer address.
//
// Head/Next iteration must tolerate removal of the record being visited.
type Table interface {
	Name() string
	Add(ll LinkAddr) *Record
	Remove(r *Record)
	Get(ll LinkAddr) *Record
	Key(r *Record) (LinkAddr, bool)
	Head() *Record
	Next(r *Record) *Record
	Register(onEvict func(*Record))
	Flush()
}

var _ Table = (*nbrtable.Table[LinkAddr, Record])(nil)

// NewTable returns a fixed-capacity table that rejects additions once full.
func NewTable(name string, capacity int) Table {
	return nbrtable.New[LinkAddr, Record](name, capacity)
}
