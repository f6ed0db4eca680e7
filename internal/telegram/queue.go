package telegram

import "sync"

// chatQueues runs one worker per active chat. A worker drains its chat's
// jobs in arrival order and exits when the queue is empty, so chats run in
// parallel while each chat stays FIFO.
type chatQueues struct {
	mu     sync.Mutex
	queues map[int64][]func()
	wg     *sync.WaitGroup
}

func newChatQueues(wg *sync.WaitGroup) *chatQueues {
	return &chatQueues{queues: make(map[int64][]func()), wg: wg}
}

// push enqueues job for chatID and starts a worker if the chat has none.
func (q *chatQueues) push(chatID int64, job func()) {
	q.mu.Lock()
	pending, active := q.queues[chatID]
	q.queues[chatID] = append(pending, job)
	if !active {
		q.wg.Add(1)
	}
	q.mu.Unlock()

	if !active {
		go q.drain(chatID)
	}
}

func (q *chatQueues) drain(chatID int64) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		pending := q.queues[chatID]
		if len(pending) == 0 {
			delete(q.queues, chatID)
			q.mu.Unlock()
			return
		}
		job := pending[0]
		pending[0] = nil
		q.queues[chatID] = pending[1:]
		q.mu.Unlock()

		job()
	}
}

func (q *chatQueues) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues)
}
