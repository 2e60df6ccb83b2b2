package risk

import "github.com/alejandrodnm/deltamaker/internal/domain"

// alertRing keeps the newest cap alerts. Evictions are counted by the caller.
// seq is the number of alerts ever pushed; the newest alert has sequence seq.
type alertRing struct {
	buf   []domain.Alert
	start int
	n     int
	seq   uint64
}

func newAlertRing(capacity int) *alertRing {
	if capacity <= 0 {
		capacity = DefaultAlertCapacity
	}
	return &alertRing{buf: make([]domain.Alert, capacity)}
}

// push appends a and reports whether the oldest alert was evicted.
func (r *alertRing) push(a domain.Alert) bool {
	r.seq++
	c := len(r.buf)
	if r.n < c {
		r.buf[(r.start+r.n)%c] = a
		r.n++
		return false
	}
	r.buf[r.start] = a
	r.start = (r.start + 1) % c
	return true
}

// snapshot returns the alerts oldest first.
func (r *alertRing) snapshot() []domain.Alert {
	out := make([]domain.Alert, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *alertRing) len() int { return r.n }

// after returns the alerts with a sequence greater than seq, oldest first,
// and the sequence of the newest one. Evicted alerts are not returned.
func (r *alertRing) after(seq uint64) ([]domain.Alert, uint64) {
	if seq >= r.seq {
		return nil, r.seq
	}
	all := r.snapshot()
	if newer := r.seq - seq; newer < uint64(len(all)) {
		all = all[len(all)-int(newer):]
	}
	return all, r.seq
}

// load replaces the content with alerts (oldest first) and returns how many
// did not fit.
func (r *alertRing) load(alerts []domain.Alert) int {
	r.start, r.n = 0, 0
	dropped := 0
	for _, a := range alerts {
		if r.push(a) {
			dropped++
		}
	}
	return dropped
}
