package ports

import "time"

type Policy struct {
	QueueLen     int           `yaml:"queue_len"`
	Vectorize    int           `yaml:"vectorize"`
	PoolBlocks   int           `yaml:"pool_blocks"`
	WriteRetries int           `yaml:"write_retries"`
	IdleSleep    time.Duration `yaml:"idle_sleep"`

	OnQueueFull string `yaml:"on_queue_full"` // "block", "drop"
}

const (
	OnQueueFullBlock = "block"
	OnQueueFullDrop  = "drop"
)

// PoolSize returns the number of blocks a source pool needs: a full queue,
// one batch being read and one batch being processed by the path.
func (p Policy) PoolSize() int {
	if p.PoolBlocks > 0 {
		return p.PoolBlocks
	}
	return p.QueueLen + 2*p.Vectorize
}
