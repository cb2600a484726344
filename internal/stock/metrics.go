package stock

import "github.com/prometheus/client_golang/prometheus"

var (
	unitsConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vetclinic_stock_units_consumed_total",
			Help: "Units deducted from stock by invoice allocation",
		},
	)

	allocationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vetclinic_stock_allocation_errors_total",
			Help: "Allocation problems by kind (missing_product, shortfall, write_failure)",
		},
		[]string{"kind"},
	)

	allocationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vetclinic_stock_allocation_duration_seconds",
			Help:    "Duration of one allocation pass over an invoice",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(unitsConsumed, allocationErrors, allocationDuration)
}
