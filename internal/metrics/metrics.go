// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "userprofile_http_requests_total",
		Help: "The total number of HTTP requests by route and status code",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "userprofile_http_request_duration_seconds",
		Help:    "The HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// UploadsTotal counts uploads by kind (picture, document) and result.
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "userprofile_uploads_total",
		Help: "The total number of file uploads",
	}, []string{"kind", "result"})

	GateRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "userprofile_gate_rejections_total",
		Help: "The total number of profile saves rejected for missing uploads",
	})

	ResetRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "userprofile_password_reset_requests_total",
		Help: "The total number of password reset requests",
	}, []string{"result"})

	ResetRedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "userprofile_password_reset_redemptions_total",
		Help: "The total number of password reset redemptions",
	}, []string{"result"})
)
