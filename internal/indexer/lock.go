package indexer

import (
	"context"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/kafka"
)

// Locker serialises commits between writers of the same index. The Redis
// locker in pkg/redis satisfies it for multi-process deployments.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// LocalLocker is a Locker for a single process.
type LocalLocker struct {
	ch chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{ch: make(chan struct{}, 1)}
}

func (l *LocalLocker) Lock(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-l.ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Publisher receives one event per commit.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// CommitEvent is the value published after every commit.
type CommitEvent struct {
	Index      string   `json:"index"`
	Generation int64    `json:"generation"`
	Reason     string   `json:"reason"`
	Segments   []string `json:"segments"`
	NumDocs    int64    `json:"num_docs"`
}
