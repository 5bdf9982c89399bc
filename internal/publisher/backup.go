// Package publisher implements the broker publisher and its local backup
// queue: a hybrid memory+disk FIFO that spills to a newline-delimited
// JSON file when broker delivery can't keep up, and recovers from disk
// on restart.
package publisher

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// MQType identifies which broker a backed-up message targets.
type MQType string

const (
	MQKafka    MQType = "kafka"
	MQRedis    MQType = "redis_streams"
	MQRabbitMQ MQType = "rabbitmq"
)

// BackupMessage is one undelivered broker publish awaiting retry.
type BackupMessage struct {
	ID         string          `json:"id"`
	Type       MQType          `json:"mq_type"`
	Topic      string          `json:"topic_stream"`
	RoutingKey string          `json:"routing_key,omitempty"`
	Data       json.RawMessage `json:"message_data"`
	Timestamp  int64           `json:"timestamp"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	Priority   int             `json:"priority"`
	CreatedAt  int64           `json:"created_at"`
}

// Failed reports whether the message has exhausted its retry budget. A
// failed message is classified but never auto-deleted — it stays in the
// backup queue for operator inspection/replay.
func (m BackupMessage) Failed() bool { return m.RetryCount >= m.MaxRetries }

// Builder fluently constructs a BackupMessage (default max_retries=3,
// priority=5, timestamps at creation time in milliseconds).
type Builder struct {
	msg BackupMessage
}

func NewBuilder(id string, mqType MQType, topic string, data json.RawMessage) *Builder {
	now := time.Now().UnixMilli()
	return &Builder{msg: BackupMessage{
		ID: id, Type: mqType, Topic: topic, Data: data,
		Timestamp: now, CreatedAt: now,
		MaxRetries: 3, Priority: 5,
	}}
}

func (b *Builder) WithRoutingKey(key string) *Builder { b.msg.RoutingKey = key; return b }

func (b *Builder) WithMaxRetries(n int) *Builder { b.msg.MaxRetries = n; return b }

func (b *Builder) WithPriority(p int) *Builder { b.msg.Priority = p; return b }

func (b *Builder) Build() BackupMessage { return b.msg }

// Stats summarizes a backup queue's current contents. Pending counts
// messages still eligible for retry; failed ones have exhausted their
// budget but remain queued.
type Stats struct {
	TotalMessages    int
	PendingMessages  int
	FailedMessages   int
	OldestMessageAge int64
	LastBackupTime   int64
}

// LocalBackupQueue holds undelivered broker messages in memory, spilling
// the oldest to disk when it grows past maxMemorySize and mirroring the
// whole in-memory queue to disk every backupInterval for crash
// durability. The disk file is "<path>.backup", one JSON object per line,
// append-only.
type LocalBackupQueue struct {
	mu             sync.Mutex
	memory         []BackupMessage
	backupPath     string
	maxMemorySize  int
	backupInterval time.Duration
	lastBackup     time.Time
}

// NewLocalBackupQueue creates a queue whose disk backing lives at
// "<path>.backup", bounded to maxMemorySize in-memory entries before
// spilling the oldest to disk.
func NewLocalBackupQueue(path string, maxMemorySize int, backupIntervalMS int) *LocalBackupQueue {
	return &LocalBackupQueue{
		backupPath:     path + ".backup",
		maxMemorySize:  maxMemorySize,
		backupInterval: time.Duration(backupIntervalMS) * time.Millisecond,
	}
}

// Push enqueues a message, spilling the oldest entry to disk if the queue
// is over capacity, then mirrors the queue to disk if the backup interval
// has elapsed.
func (q *LocalBackupQueue) Push(msg BackupMessage) error {
	q.mu.Lock()
	q.memory = append(q.memory, msg)
	var spill *BackupMessage
	if len(q.memory) > q.maxMemorySize {
		oldest := q.memory[0]
		q.memory = q.memory[1:]
		spill = &oldest
	}
	q.mu.Unlock()

	if spill != nil {
		if err := q.appendToDisk(*spill); err != nil {
			return err
		}
	}
	return q.maybeMirror()
}

// maybeMirror appends the entire in-memory queue to the disk log when the
// backup interval has elapsed since the last mirror.
func (q *LocalBackupQueue) maybeMirror() error {
	q.mu.Lock()
	if q.backupInterval <= 0 || time.Since(q.lastBackup) < q.backupInterval {
		q.mu.Unlock()
		return nil
	}
	snapshot := append([]BackupMessage(nil), q.memory...)
	q.lastBackup = time.Now()
	q.mu.Unlock()

	for _, m := range snapshot {
		if err := q.appendToDisk(m); err != nil {
			return err
		}
	}
	return nil
}

// MirrorToDisk forces a full mirror of the in-memory queue regardless of
// the interval. Used as the final persistence step on shutdown.
func (q *LocalBackupQueue) MirrorToDisk() error {
	q.mu.Lock()
	snapshot := append([]BackupMessage(nil), q.memory...)
	q.lastBackup = time.Now()
	q.mu.Unlock()

	for _, m := range snapshot {
		if err := q.appendToDisk(m); err != nil {
			return err
		}
	}
	return nil
}

// Recover drains up to limit retryable messages matching mqType, memory
// first then disk. Messages past their retry budget are left in place —
// they are classified failed and never handed back for re-publish.
func (q *LocalBackupQueue) Recover(mqType MQType, limit int) ([]BackupMessage, error) {
	q.mu.Lock()
	var fromMemory []BackupMessage
	kept := q.memory[:0:0]
	for _, m := range q.memory {
		if len(fromMemory) < limit && m.Type == mqType && !m.Failed() {
			fromMemory = append(fromMemory, m)
			continue
		}
		kept = append(kept, m)
	}
	q.memory = kept
	q.mu.Unlock()

	if len(fromMemory) >= limit {
		return fromMemory, nil
	}

	fromDisk, err := q.readFromDisk(mqType, limit-len(fromMemory))
	if err != nil {
		return fromMemory, err
	}
	return append(fromMemory, fromDisk...), nil
}

// Remove deletes an in-memory message by id after a successful
// re-publish. Reports whether the id was found.
func (q *LocalBackupQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.memory {
		if q.memory[i].ID == id {
			q.memory = append(q.memory[:i], q.memory[i+1:]...)
			return true
		}
	}
	return false
}

// IncrementRetryCount bumps an in-memory message's retry counter by id.
func (q *LocalBackupQueue) IncrementRetryCount(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.memory {
		if q.memory[i].ID == id {
			q.memory[i].RetryCount++
			return
		}
	}
}

// Size returns the number of messages currently held in memory.
func (q *LocalBackupQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.memory)
}

// GetStats summarizes the queue's current contents.
func (q *LocalBackupQueue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{TotalMessages: len(q.memory)}
	if !q.lastBackup.IsZero() {
		s.LastBackupTime = q.lastBackup.UnixMilli()
	}
	now := time.Now().UnixMilli()
	var oldest int64
	for _, m := range q.memory {
		if m.Failed() {
			s.FailedMessages++
		} else {
			s.PendingMessages++
		}
		if oldest == 0 || m.CreatedAt < oldest {
			oldest = m.CreatedAt
		}
	}
	if oldest > 0 {
		s.OldestMessageAge = now - oldest
	}
	return s
}

func (q *LocalBackupQueue) appendToDisk(msg BackupMessage) error {
	f, err := os.OpenFile(q.backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

func (q *LocalBackupQueue) readFromDisk(mqType MQType, limit int) ([]BackupMessage, error) {
	f, err := os.Open(q.backupPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []BackupMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() && len(out) < limit {
		var msg BackupMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Type == mqType && !msg.Failed() {
			out = append(out, msg)
		}
	}
	return out, scanner.Err()
}
