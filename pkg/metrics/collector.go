package metrics

import (
	"time"

	"github.com/greenprompt/registry/pkg/log"
	"github.com/greenprompt/registry/pkg/storage"
	"github.com/greenprompt/registry/pkg/types"
	"github.com/rs/zerolog"
)

const collectInterval = 15 * time.Second

// Collector periodically samples the store and refreshes the fleet gauges.
type Collector struct {
	store  storage.Store
	logger zerolog.Logger
	stopCh chan struct{}
}

// NewCollector creates a collector over the given store.
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		logger: log.WithComponent("metrics"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the collection loop.
func (c *Collector) Start() {
	go c.run()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) run() {
	ticker := time.NewTicker(collectInterval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopCh:
			return
		}
	}
}

// collect refreshes every gauge, including zeroes, so statuses that emptied
// out since the last sample do not keep their stale value.
func (c *Collector) collect() {
	wrappers, err := c.store.ListWrappers()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to sample wrappers")
		return
	}
	wrapperCounts := make(map[types.WrapperStatus]int)
	for _, w := range wrappers {
		wrapperCounts[w.Status]++
	}
	for _, status := range types.AllWrapperStatuses {
		WrappersTotal.WithLabelValues(string(status)).Set(float64(wrapperCounts[status]))
	}

	requestCounts := make(map[types.RequestStatus]int)
	for _, status := range types.AllRequestStatuses {
		requests, err := c.store.ListRequestsByStatus(status)
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to sample requests")
			return
		}
		requestCounts[status] = len(requests)
	}
	for _, status := range types.AllRequestStatuses {
		RequestsTotal.WithLabelValues(string(status)).Set(float64(requestCounts[status]))
	}

	for _, status := range types.AllMeasurementStatuses {
		measurements, err := c.store.ListMeasurementsByStatus(status)
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to sample measurements")
			return
		}
		MeasurementsTotal.WithLabelValues(string(status)).Set(float64(len(measurements)))
	}
}
