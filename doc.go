// Package simbridge connects traffic-control code to a microscopic
// traffic simulator over a synchronous TCP command protocol.
//
// The controller side (this package) owns a listener; the simulator
// process dials in, identifies itself and then answers one command at a
// time: vehicle insertion and control, traffic light switching, detector
// readings, and the step/reset/terminate cycle that drives the
// simulation clock.
//
// Client is the typed command surface over one live session. On top of
// it, the kernel layer caches per-step simulator state, and MultiEnv
// exposes the gym-style Reset/Step loop a reinforcement-learning trainer
// consumes.
package simbridge
