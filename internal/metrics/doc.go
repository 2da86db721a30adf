// Package metrics exposes wirehome process metrics in Prometheus format.
//
// A single Metrics value implements the observer hooks of the bus driver,
// the poller, the event bus and the dispatcher, so wiring is one option per
// component:
//
//	m := metrics.New()
//	drv := bus.NewDriver(t, cfg, bus.WithObserver(m))
//	p := poller.New(drv, reg, eb, pcfg, poller.WithObserver(m))
//	eb.SetObserver(m)
//	d := dispatch.New(drv, reg, eb, dcfg, dispatch.WithObserver(m))
//	router.Handle("/metrics", m.Handler())
//
// Collectors live on a private registry together with the Go runtime and
// process collectors.
package metrics
