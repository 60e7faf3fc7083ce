package service

import (
	"context"
	"sort"
	"sync"
)

// AssigneeLocker serialises writes for one key across goroutines (and, for
// distributed implementations, across replicas).
type AssigneeLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ClusterLock is a non-blocking lock used to keep a job to one replica.
type ClusterLock interface {
	TryLock(ctx context.Context, key string) (release func(), acquired bool, err error)
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is an in-process keyed mutex. Entries are dropped when no
// goroutine holds or waits for them.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

// NewLocalLocker builds an empty locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]*keyedEntry)}
}

// Lock waits for key or returns ctx.Err().
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.drop(key, e)
		})
	}, nil
}

// TryLock acquires key only if it is free.
func (l *LocalLocker) TryLock(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	default:
		l.drop(key, e)
		return nil, false, nil
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.drop(key, e)
		})
	}, true, nil
}

func (l *LocalLocker) drop(key string, e *keyedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// lockKeys acquires several keys in sorted order and returns one unlock func.
func lockKeys(ctx context.Context, locker AssigneeLocker, keys ...string) (func(), error) {
	sorted := uniqueSorted(keys)
	unlocks := make([]func(), 0, len(sorted))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, k := range sorted {
		unlock, err := locker.Lock(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

func uniqueSorted(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
