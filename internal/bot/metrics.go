// Package bot – Prometheus instrumentation for update handling.
//
// Label cardinality stays bounded: command names come from the fixed command
// set ("supply" covers address input, command or free-form), and outcomes are
// a small enum.
package bot

import "github.com/prometheus/client_golang/prometheus"

var (
	// updatesTotal counts inbound updates by disposition.
	updatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_updates_total",
			Help: "Total number of webhook updates received.",
		},
		[]string{"outcome"}, // handled, duplicate, ignored, error
	)

	// commandsTotal counts dispatched commands by name and outcome.
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of dispatched bot commands.",
		},
		[]string{"command", "outcome"}, // outcome: ok, rejected, error
	)
)

func init() {
	prometheus.MustRegister(updatesTotal, commandsTotal)
}
