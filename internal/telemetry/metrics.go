package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "metamigrate"

var (
	// RunsStarted — число запущенных runs по источнику.
	RunsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_started_total",
		Help:      "Workflow runs started, by trigger source.",
	}, []string{"source"})

	// RunsFinished — число завершённых runs по финальному состоянию.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_finished_total",
		Help:      "Workflow runs reaching a terminal state.",
	}, []string{"state", "failed_step", "error_code"})

	// StepsInvoked — число выданных вызовов шагов.
	StepsInvoked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "steps_invoked_total",
		Help:      "Step invocations issued by the orchestrator.",
	}, []string{"step", "target_kind"})

	// StepDuration — длительность шагов по исходу.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Step execution time measured by the worker.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"step", "outcome"})

	// StepsInFlight — шаги, выполняющиеся прямо сейчас.
	StepsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "steps_in_flight",
		Help:      "Steps currently executing in this process.",
	}, []string{"step"})

	// ResultsIgnored — результаты, отброшенные оркестратором.
	ResultsIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "step_results_ignored_total",
		Help:      "Step results dropped because the run no longer awaited them.",
	}, []string{"reason"})
)

// OpsMux возвращает mux с /healthz и /metrics.
//
// ready вызывается на каждый /healthz; nil ready означает "всегда готов".
func OpsMux(ready func() error) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
