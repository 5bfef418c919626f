// Package microsim is a minimal in-memory road-network backend for the
// bridge protocol.
//
// The network is a linear chain of sections; vehicles hold their commanded
// speed, there is no car-following model. Metering traffic lights hold a
// vehicle at a section boundary while red, and loop detectors at section
// boundaries count and time the vehicles passing through. That is enough
// surface to exercise every command of the protocol, which is what the
// package is for: it backs the command-loop tests, the examples and the
// CLI's built-in simulator.
package microsim

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/wolflab/simbridge-go/internal/dispatch"
)

// Traffic light states.
const (
	LightRed = iota
	LightGreen
)

// defaultVehicleLength is used for vehicle types added without an explicit
// length.
const defaultVehicleLength = 4.5

// VehicleType describes one entry of the simulation's type table.
type VehicleType struct {
	ID     int
	Name   string
	Length float64
}

type vehicle struct {
	id      int
	typeID  int
	section int
	lane    int
	pos     float64
	speed   float64
	prev    float64
	entryT  float64
	sectT   float64
	tracked bool
}

type section struct {
	id     int
	name   string
	length float64
	lanes  int
	next   int
}

type inflow struct {
	typeID   int
	speed    float64
	interval int
	counter  int
}

type trafficLight struct {
	id    int
	state int
}

type detector struct {
	id      int
	section int
	count   int
	speeds  []float64
	busy    float64
}

// Sim is the in-memory simulation state. It implements the command
// surface the dispatcher drives and advances in fixed time steps.
type Sim struct {
	log *slog.Logger

	mu       sync.Mutex
	stepSize float64
	now      float64
	nextID   int

	sections  []*section
	byName    map[string]int
	types     []VehicleType
	vehicles  map[int]*vehicle
	lights    map[int]*trafficLight
	detectors map[int]*detector
	inflow    *inflow

	events *dispatch.Events
}

// Option configures a Sim.
type Option func(*Sim)

// WithStepSize sets the simulation step length in seconds. Default 1.0.
func WithStepSize(seconds float64) Option {
	return func(s *Sim) { s.stepSize = seconds }
}

// WithVehicleTypes replaces the default single-entry type table.
func WithVehicleTypes(types ...VehicleType) Option {
	return func(s *Sim) { s.types = types }
}

// WithInflow injects a vehicle of the given type at the head of the
// first section every interval steps, at the given speed.
func WithInflow(typeID int, speed float64, interval int) Option {
	return func(s *Sim) {
		s.inflow = &inflow{typeID: typeID, speed: speed, interval: interval}
	}
}

// New builds a simulation over a linear chain of sections. Each section
// gets a metering light and a loop detector at its downstream end.
func New(log *slog.Logger, sectionLengths []float64, lanesPerSection int, opts ...Option) *Sim {
	s := &Sim{
		log:       log.With("component", "microsim"),
		stepSize:  1.0,
		nextID:    1,
		byName:    make(map[string]int),
		types:     []VehicleType{{ID: 1, Name: "car", Length: defaultVehicleLength}},
		vehicles:  make(map[int]*vehicle),
		lights:    make(map[int]*trafficLight),
		detectors: make(map[int]*detector),
		events:    &dispatch.Events{},
	}

	for _, opt := range opts {
		opt(s)
	}

	for i, length := range sectionLengths {
		next := -1
		if i+1 < len(sectionLengths) {
			next = i + 1
		}

		sec := &section{
			id:     i,
			name:   fmt.Sprintf("edge%d", i),
			length: length,
			lanes:  lanesPerSection,
			next:   next,
		}
		s.sections = append(s.sections, sec)
		s.byName[sec.name] = sec.id

		s.lights[i] = &trafficLight{id: i, state: LightGreen}
		s.detectors[i] = &detector{id: i, section: i}
	}

	return s
}

// Events returns the entered/exited buffer shared with the dispatcher.
func (s *Sim) Events() *dispatch.Events {
	return s.events
}

// Advance moves every vehicle by one time step. Vehicles crossing a
// section boundary trip its detector; a red metering light pins the
// vehicle to the boundary instead. Vehicles leaving the last section exit
// the network.
func (s *Sim) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now += s.stepSize

	for _, det := range s.detectors {
		det.count = 0
		det.speeds = det.speeds[:0]
		det.busy = 0
	}

	for id, v := range s.vehicles {
		sec := s.sections[v.section]

		v.pos += v.speed * s.stepSize

		if v.pos < sec.length {
			continue
		}

		if s.lights[sec.id].state == LightRed {
			// Held at the stop line until the meter opens.
			v.pos = sec.length
			continue
		}

		s.tripDetector(sec.id, v)

		if sec.next < 0 {
			delete(s.vehicles, id)
			s.events.VehicleExited(id)
			s.log.Debug("Vehicle exited", "vehicle", id)

			continue
		}

		v.pos -= sec.length
		v.section = sec.next
		v.sectT = s.now
	}

	if s.inflow != nil {
		s.inflow.counter++
		if s.inflow.counter >= s.inflow.interval {
			s.inflow.counter = 0
			s.addVehicleLocked(0, 0, s.inflow.typeID, 0, s.inflow.speed, false)
		}
	}
}

func (s *Sim) tripDetector(secID int, v *vehicle) {
	det := s.detectors[secID]
	det.count++
	det.speeds = append(det.speeds, v.speed)

	if v.speed > 0 {
		length := defaultVehicleLength
		if t := s.typeByID(v.typeID); t != nil {
			length = t.Length
		}

		det.busy += length / v.speed
	}
}

// Reset discards all vehicles, events and detector state and rewinds the
// clock. Sections, lights and the type table survive.
func (s *Sim) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = 0
	s.nextID = 1
	s.vehicles = make(map[int]*vehicle)

	// The dispatcher holds a reference to the buffer, so drain it in
	// place rather than swapping it out.
	s.events.DrainEntered()
	s.events.DrainExited()

	for _, light := range s.lights {
		light.state = LightGreen
	}

	for _, det := range s.detectors {
		det.count = 0
		det.speeds = nil
		det.busy = 0
	}

	if s.inflow != nil {
		s.inflow.counter = 0
	}

	s.log.Info("Simulation reset")
}

// Time returns the current simulation clock in seconds.
func (s *Sim) Time() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.now
}

// VehicleCount returns the number of vehicles currently in the network.
func (s *Sim) VehicleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.vehicles)
}

func (s *Sim) typeByID(id int) *VehicleType {
	for i := range s.types {
		if s.types[i].ID == id {
			return &s.types[i]
		}
	}

	return nil
}

// EdgeID resolves a section name, -1 when unknown.
func (s *Sim) EdgeID(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byName[name]; ok {
		return id
	}

	return -1
}

// AddVehicle inserts a vehicle and reports its id, or -1 when the edge,
// lane or type is invalid. The vehicle is also recorded in the entered
// buffer. The next-section hint is ignored, routing on the chain is
// fixed.
func (s *Sim) AddVehicle(edge, lane, typeID int, pos, speed float64, nextSection int, tracked bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addVehicleLocked(edge, lane, typeID, pos, speed, tracked)
}

func (s *Sim) addVehicleLocked(edge, lane, typeID int, pos, speed float64, tracked bool) int {
	if edge < 0 || edge >= len(s.sections) {
		return -1
	}

	if lane < 0 || lane >= s.sections[edge].lanes {
		return -1
	}

	if s.typeByID(typeID) == nil {
		return -1
	}

	id := s.nextID
	s.nextID++

	s.vehicles[id] = &vehicle{
		id:      id,
		typeID:  typeID,
		section: edge,
		lane:    lane,
		pos:     pos,
		speed:   speed,
		prev:    speed,
		entryT:  s.now,
		sectT:   s.now,
		tracked: tracked,
	}

	s.events.VehicleEntered(id)
	s.log.Debug("Vehicle added", "vehicle", id, "edge", edge)

	return id
}

// RemoveVehicle deletes a vehicle, recording it as exited. Returns the id
// or -1 when unknown.
func (s *Sim) RemoveVehicle(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vehicles[id]; !ok {
		return -1
	}

	delete(s.vehicles, id)
	s.events.VehicleExited(id)

	return id
}

// SetSpeed overrides a vehicle's commanded speed.
func (s *Sim) SetSpeed(id int, speed float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[id]
	if !ok || speed < 0 {
		return -1
	}

	v.prev = v.speed
	v.speed = speed

	return id
}

// SetLane shifts a vehicle by direction lanes, clamped to the section.
func (s *Sim) SetLane(id, direction int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[id]
	if !ok {
		return -1
	}

	lane := v.lane + direction
	sec := s.sections[v.section]

	if lane < 0 || lane >= sec.lanes {
		return -1
	}

	v.lane = lane

	return id
}

// SetTracked marks a vehicle for the fast tracked-lookup path.
func (s *Sim) SetTracked(id int) int {
	return s.setTracked(id, true)
}

// SetUntracked clears the tracked mark.
func (s *Sim) SetUntracked(id int) int {
	return s.setTracked(id, false)
}

func (s *Sim) setTracked(id int, tracked bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[id]
	if !ok {
		return -1
	}

	v.tracked = tracked

	return id
}

// Leader returns the id of the nearest vehicle ahead in the same section
// and lane, or -1 when none exists.
func (s *Sim) Leader(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[id]
	if !ok {
		return -1
	}

	best, bestPos := -1, 0.0

	for _, other := range s.vehicles {
		if other.id == id || other.section != v.section || other.lane != v.lane {
			continue
		}

		if other.pos > v.pos && (best < 0 || other.pos < bestPos) {
			best, bestPos = other.id, other.pos
		}
	}

	return best
}

// Follower returns the id of the nearest vehicle behind in the same
// section and lane, or -1 when none exists.
func (s *Sim) Follower(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[id]
	if !ok {
		return -1
	}

	best, bestPos := -1, 0.0

	for _, other := range s.vehicles {
		if other.id == id || other.section != v.section || other.lane != v.lane {
			continue
		}

		if other.pos < v.pos && (best < 0 || other.pos > bestPos) {
			best, bestPos = other.id, other.pos
		}
	}

	return best
}

// NextSection returns the section a vehicle enters after the given one,
// -1 at the end of the chain.
func (s *Sim) NextSection(id, sectionID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vehicles[id]; !ok {
		return -1
	}

	if sectionID < 0 || sectionID >= len(s.sections) {
		return -1
	}

	return s.sections[sectionID].next
}

// TypeID resolves a vehicle type name, -1 when unknown.
func (s *Sim) TypeID(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.types {
		if t.Name == name {
			return t.ID
		}
	}

	return -1
}

// TypeName returns the type name of a vehicle, "" when unknown.
func (s *Sim) TypeName(id int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[id]
	if !ok {
		return ""
	}

	if t := s.typeByID(v.typeID); t != nil {
		return t.Name
	}

	return ""
}

// Length returns a vehicle's length, -1 when unknown.
func (s *Sim) Length(id int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[id]
	if !ok {
		return -1
	}

	if t := s.typeByID(v.typeID); t != nil {
		return t.Length
	}

	return defaultVehicleLength
}

// StaticInfo returns the static record of a vehicle. The "report" field
// is 0 on success and negative on failure; the tracked flag must match
// the vehicle's tracked state for the fast path to resolve.
func (s *Sim) StaticInfo(id int, tracked bool) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.lookup(id, tracked)
	if v == nil {
		return map[string]any{"report": -1}
	}

	length := defaultVehicleLength
	if t := s.typeByID(v.typeID); t != nil {
		length = t.Length
	}

	return map[string]any{
		"report":             0,
		"idVeh":              v.id,
		"type":               v.typeID,
		"length":             length,
		"width":              2.0,
		"maxDesiredSpeed":    v.speed,
		"maxAcceleration":    3.0,
		"normalDeceleration": 4.0,
		"maxDeceleration":    6.0,
		"speedAcceptance":    1.0,
		"minDistanceVeh":     1.0,
		"reactionTime":       0.8,
		"centroidOrigin":     0,
		"centroidDest":       len(s.sections) - 1,
		"tracked":            v.tracked,
	}
}

// DynamicInfo returns the dynamic record of a vehicle.
func (s *Sim) DynamicInfo(id int, tracked bool) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.lookup(id, tracked)
	if v == nil {
		return map[string]any{"report": -1}
	}

	sec := s.sections[v.section]

	return map[string]any{
		"report":           0,
		"idVeh":            v.id,
		"type":             v.typeID,
		"idSection":        v.section,
		"segment":          0,
		"numberLane":       v.lane,
		"CurrentPos":       v.pos,
		"distance2End":     sec.length - v.pos,
		"CurrentSpeed":     v.speed,
		"PreviousSpeed":    v.prev,
		"TotalDistance":    v.pos,
		"SystemEntranceT":  v.entryT,
		"SectionEntranceT": v.sectT,
	}
}

// ACCInfo returns the adaptive-cruise record of a vehicle. The microsim
// has no ACC model, so the gains are fixed placeholders.
func (s *Sim) ACCInfo(id int, tracked bool) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.lookup(id, tracked)
	if v == nil {
		return map[string]any{"report": -1}
	}

	return map[string]any{
		"report":               0,
		"idVeh":                v.id,
		"ACCType":              0,
		"minClearanceDistance": 2.0,
		"maxClearanceDistance": 10.0,
		"speedGainFreeFlow":    0.4,
		"distanceGain":         0.23,
		"speedGain":            0.07,
		"desiredTimeGap":       1.5,
	}
}

func (s *Sim) lookup(id int, tracked bool) *vehicle {
	v, ok := s.vehicles[id]
	if !ok {
		return nil
	}

	if tracked && !v.tracked {
		return nil
	}

	return v
}

// TrafficLightIDs lists the metering lights, one per section.
func (s *Sim) TrafficLightIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int, 0, len(s.lights))
	for i := range s.sections {
		ids = append(ids, s.lights[i].id)
	}

	return ids
}

// TrafficLightState returns a light's state, -1 when unknown.
func (s *Sim) TrafficLightState(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	light, ok := s.lights[id]
	if !ok {
		return -1
	}

	return light.state
}

// SetTrafficLightState sets a light's state. The microsim has a single
// link per light, so linkIndex must be 0.
func (s *Sim) SetTrafficLightState(id, linkIndex, state int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	light, ok := s.lights[id]
	if !ok || linkIndex != 0 {
		return -1
	}

	if state != LightRed && state != LightGreen {
		return -1
	}

	light.state = state

	return id
}

// DetectorIDs lists the loop detectors, one per section.
func (s *Sim) DetectorIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int, 0, len(s.detectors))
	for i := range s.sections {
		ids = append(ids, s.detectors[i].id)
	}

	return ids
}

// DetectorCount returns the number of vehicles that crossed the detector
// during the last step, -1 when the detector is unknown.
func (s *Sim) DetectorCount(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	det, ok := s.detectors[id]
	if !ok {
		return -1
	}

	return det.count
}

// DetectorMeanSpeed returns the mean speed over the last step's
// crossings, 0 when none crossed and -1 when the detector is unknown.
func (s *Sim) DetectorMeanSpeed(id int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	det, ok := s.detectors[id]
	if !ok {
		return -1
	}

	if len(det.speeds) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range det.speeds {
		sum += v
	}

	return sum / float64(len(det.speeds))
}

// DetectorOccupancy returns the fraction of the last step the detector
// was covered, -1 when the detector is unknown.
func (s *Sim) DetectorOccupancy(id int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	det, ok := s.detectors[id]
	if !ok {
		return -1
	}

	occ := det.busy / s.stepSize
	if occ > 1 {
		occ = 1
	}

	return occ
}

var _ dispatch.Simulator = (*Sim)(nil)
