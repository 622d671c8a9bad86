package sync

import "sync/atomic"

// writerActive is a sentinel stored in RWSpinlock.readers while a writer
// holds the lock.
const writerActive = ^uint32(0)

// RWSpinlock is a reader/writer spinlock. Any number of readers may hold the
// lock concurrently; a writer requires exclusive access. Like Spinlock, it
// busy-waits rather than parking the caller on a wait queue, so it must not
// be acquired from interrupt context.
type RWSpinlock struct {
	// readers counts the number of callers currently holding the lock for
	// reading. It is writerActive while a writer holds the lock.
	readers uint32
}

// RLock acquires the lock for reading. Multiple readers may hold the lock at
// the same time; RLock only blocks while a writer holds the lock. A writer
// that is waiting to acquire the lock does not stop new readers.
func (l *RWSpinlock) RLock() {
	for {
		cur := atomic.LoadUint32(&l.readers)
		if cur == writerActive {
			l.yield()
			continue
		}
		if atomic.CompareAndSwapUint32(&l.readers, cur, cur+1) {
			return
		}
	}
}

// RUnlock releases a read lock acquired via RLock.
func (l *RWSpinlock) RUnlock() {
	atomic.AddUint32(&l.readers, ^uint32(0))
}

// Lock acquires the lock for writing, blocking until no reader or writer
// holds it.
func (l *RWSpinlock) Lock() {
	for !atomic.CompareAndSwapUint32(&l.readers, 0, writerActive) {
		l.yield()
	}
}

// Unlock releases a write lock acquired via Lock.
func (l *RWSpinlock) Unlock() {
	atomic.StoreUint32(&l.readers, 0)
}

func (l *RWSpinlock) yield() {
	if yieldFn != nil {
		yieldFn()
	}
}
