// CLAUDE:SUMMARY Prometheus counters and histograms for the conversion pipeline.
package pdfpipe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/printpipe/oplog"
)

// Metrics exposes pipeline counters on a Prometheus registry.
type Metrics struct {
	conversions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	bytesIn     *prometheus.CounterVec
	bytesOut    *prometheus.CounterVec
	images      *prometheus.CounterVec
	notesTotal  prometheus.Counter
	attachments prometheus.Counter
}

// NewMetrics registers the pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "printpipe",
			Name:      "conversions_total",
			Help:      "Finished conversions by kind and status.",
		}, []string{"kind", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "printpipe",
			Name:      "conversion_duration_seconds",
			Help:      "Wall time of the full pipeline.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		bytesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "printpipe",
			Name:      "input_bytes_total",
			Help:      "HTML payload bytes received.",
		}, []string{"kind"}),
		bytesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "printpipe",
			Name:      "output_bytes_total",
			Help:      "PDF bytes produced.",
		}, []string{"kind"}),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "printpipe",
			Name:      "images_total",
			Help:      "Images handled by the rewriter, by outcome.",
		}, []string{"outcome"}),
		notesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "printpipe",
			Name:      "notes_total",
			Help:      "Sticky notes extracted and annotated.",
		}),
		attachments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "printpipe",
			Name:      "attachments_total",
			Help:      "Attachment files received.",
		}),
	}
	reg.MustRegister(m.conversions, m.duration, m.bytesIn, m.bytesOut,
		m.images, m.notesTotal, m.attachments)
	return m
}

func (m *Metrics) observe(kind string, ev oplog.Event, d time.Duration) {
	status := "ok"
	if !ev.Success {
		status = "error"
	}
	m.conversions.WithLabelValues(kind, status).Inc()
	m.duration.WithLabelValues(kind).Observe(d.Seconds())
	m.bytesIn.WithLabelValues(kind).Add(float64(ev.BytesIn))
	m.bytesOut.WithLabelValues(kind).Add(float64(ev.BytesOut))
	m.images.WithLabelValues("converted").Add(float64(ev.ImagesConverted))
	m.images.WithLabelValues("failed").Add(float64(ev.ImagesFailed))
	m.notesTotal.Add(float64(ev.NotesCount))
	m.attachments.Add(float64(ev.Attachments))
}
