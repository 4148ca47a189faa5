package verify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var verificationsProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "porter_verifications_processed",
	Help: "Number of verifications evaluated",
})

var verificationsPassed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "porter_verifications_passed",
	Help: "Number of verifications with a passing verdict",
})

var verificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "porter_verifications_failed",
	Help: "Number of verifications disqualified, by pipeline stage",
}, []string{"stage"})
