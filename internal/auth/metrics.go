// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package auth

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels for auth metrics.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalid            = "invalid"
	OutcomeDuplicate          = "duplicate"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeInactive           = "inactive"
	OutcomeError              = "error"
)

// LoginsTotal counts login attempts by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var LoginsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payzy_auth_logins_total",
		Help: "Total number of login attempts by outcome",
	},
	[]string{"outcome"},
)

// RegistrationsTotal counts registration attempts by outcome.
var RegistrationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payzy_auth_registrations_total",
		Help: "Total number of registration attempts by outcome",
	},
	[]string{"outcome"},
)

// RegisterMetrics registers auth package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LoginsTotal)
	reg.MustRegister(RegistrationsTotal)
}

// RecordLogin increments the login counter for outcome.
func RecordLogin(outcome string) {
	LoginsTotal.WithLabelValues(outcome).Inc()
}

// RecordRegistration increments the registration counter for outcome.
func RecordRegistration(outcome string) {
	RegistrationsTotal.WithLabelValues(outcome).Inc()
}
