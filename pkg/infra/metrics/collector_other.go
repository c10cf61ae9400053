//go:build !linux

package metrics

import "context"

type unsupportedCollector struct{}

func NewCollector(string) Collector {
	return unsupportedCollector{}
}

func (unsupportedCollector) Collect(context.Context) (HostMetrics, error) {
	return HostMetrics{}, ErrUnsupported
}
