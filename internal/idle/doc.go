// Package idle keeps the robot gently moving while nobody is around.
//
// The [Manager] listens to tracker events. Once the scene has been empty for
// the activation threshold it asks the scheduler for a freshly randomized
// idle drift every interval. Any recognized or unknown visitor deactivates
// it. Drifts run at the lowest priority and are interruptible, so a greeting
// always preempts them; deactivation itself never cancels a running drift.
//
// # Usage
//
//	m := idle.New(idle.Config{
//	    ActivationThreshold: 5 * time.Second,
//	    Interval:            3 * time.Second,
//	}, sched, idle.WithLogger(logger))
//	m.Attach(trk)
//	m.Start(ctx)
//	defer m.Stop()
//
// # Thread Safety
//
// All methods are safe for concurrent use. Event handlers never block.
package idle
