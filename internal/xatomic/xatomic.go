// Package xatomic provides thin typed wrappers over sync/atomic, the same
// shape as the teacher's cmn/atomic: value types with Load/Store/Inc/Add,
// kept so call sites read as field accesses rather than raw atomic ops.
package xatomic

import "sync/atomic"

type Int64 struct{ v int64 }

func (i *Int64) Load() int64       { return atomic.LoadInt64(&i.v) }
func (i *Int64) Store(val int64)   { atomic.StoreInt64(&i.v, val) }
func (i *Int64) Inc() int64        { return atomic.AddInt64(&i.v, 1) }
func (i *Int64) Dec() int64        { return atomic.AddInt64(&i.v, -1) }
func (i *Int64) Add(delta int64) int64 { return atomic.AddInt64(&i.v, delta) }
func (i *Int64) CAS(old, new int64) bool {
	return atomic.CompareAndSwapInt64(&i.v, old, new)
}

type Uint32 struct{ v uint32 }

func (u *Uint32) Load() uint32     { return atomic.LoadUint32(&u.v) }
func (u *Uint32) Store(val uint32) { atomic.StoreUint32(&u.v, val) }
func (u *Uint32) Inc() uint32      { return atomic.AddUint32(&u.v, 1) }
func (u *Uint32) CAS(old, new uint32) bool {
	return atomic.CompareAndSwapUint32(&u.v, old, new)
}

type Bool struct{ v uint32 }

func (b *Bool) Load() bool { return atomic.LoadUint32(&b.v) != 0 }
func (b *Bool) Store(val bool) {
	if val {
		atomic.StoreUint32(&b.v, 1)
	} else {
		atomic.StoreUint32(&b.v, 0)
	}
}

// CAS performs a compare-and-swap from old to new, both expressed as bool.
func (b *Bool) CAS(old, new bool) bool {
	var o, n uint32
	if old {
		o = 1
	}
	if new {
		n = 1
	}
	return atomic.CompareAndSwapUint32(&b.v, o, n)
}
