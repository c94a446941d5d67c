package gifts

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics counts gift requests and reloads, independent of the event
// loop's own Metrics (spec §5: the two scheduling contexts share no
// mutable state).
type Metrics struct {
	Requests *prometheus.CounterVec
	Reloads  prometheus.Counter
}

// NewMetrics builds a fresh, unregistered set of counters.
func NewMetrics() *Metrics {
	return &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cableclub_gift_requests_total",
			Help: "Total /gifts and /regalos requests, labeled by outcome.",
		}, []string{"outcome"}),
		Reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cableclub_gift_reloads_total",
			Help: "Total /reload-gifts invocations.",
		}),
	}
}

func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(m.Requests, m.Reloads)
}

// Handler builds the gift HTTP service's mux: /gifts, /regalos, /health,
// /reload-gifts, and /metrics against reg.
func Handler(m *Manager, metrics *Metrics, log *logrus.Logger, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/gifts", giftsHandler(m, metrics, log))
	mux.HandleFunc("/regalos", giftsHandler(m, metrics, log))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/reload-gifts", reloadHandler(m, metrics, log))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func giftsHandler(m *Manager, metrics *Metrics, log *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nivel := r.URL.Query().Get("nivel")
		if nivel == "" {
			nivel = "0"
		}
		level, err := strconv.Atoi(nivel)
		if err != nil {
			metrics.Requests.WithLabelValues("bad_request").Inc()
			respond(w, http.StatusBadRequest, "Invalid 'nivel' parameter. Must be a number.")
			return
		}

		gift, ok := m.Lookup(level)
		if !ok {
			metrics.Requests.WithLabelValues("not_found").Inc()
			respond(w, http.StatusNotFound, "No gift available for the current date and level")
			return
		}
		metrics.Requests.WithLabelValues("found").Inc()
		if log != nil {
			log.WithField("level", level).Debug("gift served")
		}
		respond(w, http.StatusOK, gift)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, "API Server is running")
}

func reloadHandler(m *Manager, metrics *Metrics, log *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.Reload(); err != nil {
			if log != nil {
				log.WithError(err).Error("error reloading gifts")
			}
			respond(w, http.StatusInternalServerError, "Error reloading gifts")
			return
		}
		metrics.Reloads.Inc()
		count := m.Count()
		if log != nil {
			log.WithField("count", count).Info("gifts reloaded")
		}
		msg := fmt.Sprintf("Gifts reloaded successfully. %d gift periods available.", count)
		if names := m.Filenames(); len(names) > 0 {
			msg += " (" + strings.Join(names, ", ") + ")"
		}
		respond(w, http.StatusOK, msg)
	}
}

// respond mirrors api_server.py's _send_response: plain text, UTF-8, and
// CORS-open for every response including errors.
func respond(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
