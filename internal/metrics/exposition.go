package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/portenta/image-processing-ioc/internal/ioc"
	"github.com/portenta/image-processing-ioc/internal/pv"
)

const (
	PVValueName      = "image_ioc_pv_value"
	UpdatesTotalName = "image_ioc_updates_total"
)

type updateKey struct {
	channel ioc.Channel
	status  ioc.Status
}

// Exporter renders metric families from a PV database and observed outcomes.
type Exporter struct {
	db *pv.DB

	mu      sync.Mutex
	updates map[updateKey]float64
}

// New returns an Exporter reading PV values from db.
func New(db *pv.DB) *Exporter {
	return &Exporter{db: db, updates: make(map[updateKey]float64)}
}

// Observe counts one path update. It has the signature of an ioc outcome
// listener.
func (e *Exporter) Observe(out ioc.Outcome) {
	e.mu.Lock()
	e.updates[updateKey{out.Channel, out.Status}]++
	e.mu.Unlock()
}

// Families returns the current metric families, sorted by metric name with
// series in a stable order.
func (e *Exporter) Families() []*dto.MetricFamily {
	gauge := &dto.MetricFamily{
		Name: proto.String(PVValueName),
		Help: proto.String("Current value of a numeric process variable."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	for _, rec := range e.db.List() {
		v, ok := rec.Float()
		if !ok {
			continue
		}
		gauge.Metric = append(gauge.Metric, &dto.Metric{
			Label: []*dto.LabelPair{label("pv", rec.Name)},
			Gauge: &dto.Gauge{Value: proto.Float64(v)},
		})
	}

	counter := &dto.MetricFamily{
		Name: proto.String(UpdatesTotalName),
		Help: proto.String("Image path updates by channel and outcome."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	e.mu.Lock()
	keys := make([]updateKey, 0, len(e.updates))
	for k := range e.updates {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].channel != keys[j].channel {
			return keys[i].channel < keys[j].channel
		}
		return keys[i].status < keys[j].status
	})
	for _, k := range keys {
		counter.Metric = append(counter.Metric, &dto.Metric{
			Label: []*dto.LabelPair{
				label("channel", string(k.channel)),
				label("status", string(k.status)),
			},
			Counter: &dto.Counter{Value: proto.Float64(e.updates[k])},
		})
	}
	e.mu.Unlock()

	out := []*dto.MetricFamily{gauge}
	if len(counter.Metric) > 0 {
		out = append(out, counter)
	}
	return out
}

// Write encodes all families to w in the text exposition format.
func (e *Exporter) Write(w io.Writer) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range e.Families() {
		if len(mf.Metric) == 0 {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// ServeHTTP implements http.Handler for the /metrics endpoint.
func (e *Exporter) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err := e.Write(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}
