package queue

import "github.com/cadencehq/cadence/pkg/models"

// ring is a bounded FIFO of finished jobs. When full, the oldest entry is
// evicted. It exists so JobStatus can answer for recently finished jobs
// without a store round trip.
type ring struct {
	entries []*models.Job
	head    int
	size    int
}

func newRing(capacity int) *ring {
	return &ring{entries: make([]*models.Job, capacity)}
}

func (r *ring) push(job *models.Job) {
	if len(r.entries) == 0 {
		return
	}

	tail := (r.head + r.size) % len(r.entries)
	r.entries[tail] = job

	if r.size < len(r.entries) {
		r.size++
	} else {
		r.head = (r.head + 1) % len(r.entries)
	}
}

func (r *ring) find(id string) *models.Job {
	for i := 0; i < r.size; i++ {
		job := r.entries[(r.head+i)%len(r.entries)]
		if job.ID == id {
			return job
		}
	}

	return nil
}
