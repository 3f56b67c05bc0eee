// Package metrics exposes the prometheus metrics of the analyzer server.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leptonai/oomanalyzer/pkg/oom/analyzer"
)

const (
	labelClassification = "classification"
	labelState          = "state"
	labelSeverity       = "severity"
	labelConfig         = "config"
	labelResult         = "result"

	// classification label of rejected texts
	classificationRejected = "rejected"
)

var (
	metricAnalyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oomanalyzer",
			Subsystem: "analyses",
			Name:      "total",
			Help:      "total number of analyzed OOM texts",
		},
		[]string{labelState, labelClassification},
	)
	metricAnalysesByConfig = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oomanalyzer",
			Subsystem: "analyses",
			Name:      "by_config_total",
			Help:      "total number of analyses per selected kernel configuration",
		},
		[]string{labelConfig},
	)
	metricAnalysisSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "oomanalyzer",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "time spent analyzing one OOM text",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)
	metricMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oomanalyzer",
			Subsystem: "messages",
			Name:      "total",
			Help:      "total number of analysis messages",
		},
		[]string{labelSeverity},
	)
	metricCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oomanalyzer",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "total number of result cache lookups",
		},
		[]string{labelResult},
	)
)

// Register registers every analyzer metric with reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		metricAnalyses,
		metricAnalysesByConfig,
		metricAnalysisSeconds,
		metricMessages,
		metricCache,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// RecordAnalysis records the outcome of one Analyze call. res may be
// partial (err != nil) or nil for a setup failure.
func RecordAnalysis(res *analyzer.Result, err error, took time.Duration) {
	metricAnalysisSeconds.Observe(took.Seconds())
	if res == nil {
		return
	}

	classification := res.Classification.String()
	if err != nil {
		classification = classificationRejected
	}
	metricAnalyses.With(prometheus.Labels{
		labelState:          string(res.State),
		labelClassification: classification,
	}).Inc()

	if res.Config != nil {
		metricAnalysesByConfig.With(prometheus.Labels{labelConfig: res.Config.ID}).Inc()
	}
	for _, m := range res.Messages {
		metricMessages.With(prometheus.Labels{labelSeverity: string(m.Severity)}).Inc()
	}
}

func RecordCacheHit() {
	metricCache.With(prometheus.Labels{labelResult: "hit"}).Inc()
}

func RecordCacheMiss() {
	metricCache.With(prometheus.Labels{labelResult: "miss"}).Inc()
}

type Metrics struct {
	AnalysesTotal int64
	// AnalysesByClassification counts analyses per classification label,
	// rejected texts under "rejected".
	AnalysesByClassification map[string]int64
	AnalysisSecondsTotal     float64
	MessagesBySeverity       map[string]int64
	CacheHits                int64
	CacheMisses              int64
}

// ReadMetrics reads the current values back from a gatherer.
func ReadMetrics(gatherer prometheus.Gatherer) (Metrics, error) {
	metricFamilies, err := gatherer.Gather()
	if err != nil {
		return Metrics{}, err
	}

	mtr := Metrics{
		AnalysesByClassification: make(map[string]int64),
		MessagesBySeverity:       make(map[string]int64),
	}
	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "oomanalyzer_analyses_total":
			for _, m := range mf.GetMetric() {
				v := int64(m.GetCounter().GetValue())
				mtr.AnalysesTotal += v
				for _, l := range m.GetLabel() {
					if l.GetName() == labelClassification {
						mtr.AnalysesByClassification[l.GetValue()] += v
					}
				}
			}

		case "oomanalyzer_analysis_duration_seconds":
			for _, m := range mf.GetMetric() {
				mtr.AnalysisSecondsTotal += m.GetHistogram().GetSampleSum()
			}

		case "oomanalyzer_messages_total":
			for _, m := range mf.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == labelSeverity {
						mtr.MessagesBySeverity[l.GetValue()] += int64(m.GetCounter().GetValue())
					}
				}
			}

		case "oomanalyzer_cache_lookups_total":
			for _, m := range mf.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() != labelResult {
						continue
					}
					switch l.GetValue() {
					case "hit":
						mtr.CacheHits += int64(m.GetCounter().GetValue())
					case "miss":
						mtr.CacheMisses += int64(m.GetCounter().GetValue())
					}
				}
			}
		}
	}
	return mtr, nil
}
