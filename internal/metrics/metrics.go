// Package metrics holds the broker's counters and renders them in the
// Prometheus text exposition format without pulling in client_golang.
//
// Each family is a labelCounter: a sync.Map from a tab-separated label key
// to an atomic counter.
//
//	Pushed / Popped                              key = "queue"
//	Dispatched / Delivered / Failed / Dropped    key = "target\tkind"
//	HTTPReqs                                     key = "method\tpath\tstatus"
//	HTTPDurMs / HTTPDurCnt                       key = "method\tpath"
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/snehjoshi/replq/internal/replication"
)

// ─── labelCounter ─────────────────────────────────────────────────────────────

type labelCounter struct {
	vals sync.Map // key string → *atomic.Int64
}

func (lc *labelCounter) get(key string) *atomic.Int64 {
	v, _ := lc.vals.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc increments the counter for key by 1.
func (lc *labelCounter) Inc(key string) { lc.get(key).Add(1) }

// Add increments the counter for key by n.
func (lc *labelCounter) Add(key string, n int64) { lc.get(key).Add(n) }

// Value returns the current count for key (0 if never touched).
func (lc *labelCounter) Value(key string) int64 {
	v, ok := lc.vals.Load(key)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Total returns the sum across every key.
func (lc *labelCounter) Total() int64 {
	var n int64
	lc.Each(func(_ string, v int64) { n += v })
	return n
}

// Each calls fn for every key/value pair, sorted by key.
func (lc *labelCounter) Each(fn func(key string, val int64)) {
	type kv struct {
		k string
		v int64
	}
	var all []kv
	lc.vals.Range(func(k, v any) bool {
		all = append(all, kv{k.(string), v.(*atomic.Int64).Load()})
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].k < all[j].k })
	for _, e := range all {
		fn(e.k, e.v)
	}
}

// ─── Registry ─────────────────────────────────────────────────────────────────

// Registry holds every counter the broker exports. The zero value is ready
// to use.
type Registry struct {
	// Client operations on master queues.  key = "queue"
	Pushed labelCounter
	Popped labelCounter

	// Replication pipeline.  key = "target\tkind"
	Dispatched labelCounter
	Delivered  labelCounter
	Failed     labelCounter
	Dropped    labelCounter

	HTTPReqs   labelCounter
	HTTPDurMs  labelCounter // sum of request durations in milliseconds
	HTTPDurCnt labelCounter
}

var _ replication.Observer = (*Registry)(nil)

// Observe counts a replication event under the target and kind of its
// command.
func (r *Registry) Observe(e replication.Event) {
	key := CommandKey(e.Command.Target(), e.Command.Kind().String())
	switch e.Type {
	case replication.EventDispatched:
		r.Dispatched.Inc(key)
	case replication.EventDelivered:
		r.Delivered.Inc(key)
	case replication.EventFailed:
		r.Failed.Inc(key)
	case replication.EventDropped:
		r.Dropped.Inc(key)
	}
}

// ─── Prometheus text serialisation ────────────────────────────────────────────

type family struct {
	name, help string
	lc         *labelCounter
	labels     func(key string) string
}

func queueLabels(key string) string { return fmt.Sprintf(`queue=%q`, key) }

func commandLabels(key string) string {
	target, kind := splitTwo(key)
	return fmt.Sprintf(`target=%q,kind=%q`, target, kind)
}

func (r *Registry) families() []family {
	return []family{
		{"replq_queue_pushed_total", "Total payloads pushed to master queues", &r.Pushed, queueLabels},
		{"replq_queue_popped_total", "Total payloads popped from master queues", &r.Popped, queueLabels},
		{"replq_replication_dispatched_total", "Commands accepted into a slave lane", &r.Dispatched, commandLabels},
		{"replq_replication_delivered_total", "Commands applied by a slave", &r.Delivered, commandLabels},
		{"replq_replication_failed_total", "Commands the transport rejected", &r.Failed, commandLabels},
		{"replq_replication_dropped_total", "Commands that never reached the transport", &r.Dropped, commandLabels},
		{"replq_http_requests_total", "Total HTTP requests by method, path, and status code", &r.HTTPReqs,
			func(key string) string {
				method, path, status := splitThree(key)
				return fmt.Sprintf(`method=%q,path=%q,status=%q`, method, path, status)
			}},
		{"replq_http_request_duration_milliseconds_sum", "Sum of HTTP request durations in milliseconds", &r.HTTPDurMs, httpDurLabels},
		{"replq_http_request_duration_milliseconds_count", "Count of observed HTTP request durations", &r.HTTPDurCnt, httpDurLabels},
	}
}

func httpDurLabels(key string) string {
	method, path := splitTwo(key)
	return fmt.Sprintf(`method=%q,path=%q`, method, path)
}

// Handler returns an http.Handler that renders all metrics in the Prometheus
// plain-text exposition format (text/plain; version=0.0.4).
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)

		var b strings.Builder
		for _, f := range r.families() {
			writeFamily(&b, f)
		}
		fmt.Fprint(w, b.String())
	})
}

// writeFamily writes one counter family, or nothing if it has no samples.
func writeFamily(b *strings.Builder, f family) {
	var lines []string
	f.lc.Each(func(key string, val int64) {
		lines = append(lines, fmt.Sprintf("%s{%s} %d\n", f.name, f.labels(key), val))
	})
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "# HELP %s %s\n", f.name, f.help)
	fmt.Fprintf(b, "# TYPE %s counter\n", f.name)
	for _, l := range lines {
		b.WriteString(l)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func splitTwo(key string) (string, string) {
	i := strings.IndexByte(key, '\t')
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}

func splitThree(key string) (string, string, string) {
	a, rest := splitTwo(key)
	b, c := splitTwo(rest)
	return a, b, c
}

// CommandKey builds the label key used by the replication counters.
func CommandKey(target, kind string) string {
	return target + "\t" + kind
}

// HTTPKey builds the label key used by HTTPReqs.
func HTTPKey(method, path, status string) string {
	return method + "\t" + path + "\t" + status
}

// HTTPDurKey builds the label key used by HTTPDurMs / HTTPDurCnt.
func HTTPDurKey(method, path string) string {
	return method + "\t" + path
}
