// Package structinfo defines the simulator-native vehicle info structs and
// the schema-checked decoding of their query payloads.
//
// A struct query travels the bridge as a dictionary payload naming the
// vehicle, the requested field names and whether the vehicle is tracked.
// The simulator side answers with a dictionary holding the requested
// fields, or with an error-indicating record when the underlying struct
// reported an error or a requested field is outside the struct's schema.
// Nothing on this path raises through the command loop.
package structinfo

import (
	"fmt"
	"slices"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/wolflab/simbridge-go/internal/errors"
)

// Kind names one simulator struct family.
type Kind string

const (
	// Static is the per-vehicle static information struct.
	Static Kind = "static"
	// Dynamic is the per-vehicle tracking information struct.
	Dynamic Kind = "dynamic"
	// ACC is the adaptive-cruise-control parameter struct.
	ACC Kind = "acc"
)

// Field whitelists per struct kind. A query may only ask for fields listed
// here; anything else yields the error record.
var (
	staticKeys = []string{
		"report", "idVeh", "type", "length", "width",
		"maxDesiredSpeed", "maxAcceleration", "normalDeceleration",
		"maxDeceleration", "speedAcceptance", "minDistanceVeh",
		"reactionTime", "centroidOrigin", "centroidDest", "tracked",
	}

	dynamicKeys = []string{
		"report", "idVeh", "type", "idSection", "segment", "numberLane",
		"CurrentPos", "distance2End", "CurrentSpeed", "PreviousSpeed",
		"TotalDistance", "SystemEntranceT", "SectionEntranceT",
	}

	accKeys = []string{
		"report", "idVeh", "ACCType", "minClearanceDistance",
		"maxClearanceDistance", "speedGainFreeFlow", "distanceGain",
		"speedGain", "desiredTimeGap",
	}
)

// ValidKeys returns the field whitelist for a struct kind. The returned
// slice must not be mutated.
func ValidKeys(kind Kind) []string {
	switch kind {
	case Static:
		return staticKeys
	case Dynamic:
		return dynamicKeys
	case ACC:
		return accKeys
	default:
		return nil
	}
}

// Query is the decoded form of a struct query payload.
type Query struct {
	VehID int
	// Keys lists the requested fields; empty means all valid keys.
	Keys []string
	// Tracked selects the fast tracked-vehicle lookup on the simulator.
	Tracked bool
}

// Encode renders the query as a dictionary payload.
func (q Query) Encode() map[string]any {
	keys := make([]any, len(q.Keys))
	for i, k := range q.Keys {
		keys[i] = k
	}

	return map[string]any{
		"veh_id":  q.VehID,
		"keys":    keys,
		"tracked": q.Tracked,
	}
}

// querySchema validates an incoming struct query payload before any field
// is touched. Unknown payload keys are rejected.
var querySchema = mustResolve(&jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"veh_id":  {Type: "integer"},
		"keys":    {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		"tracked": {Type: "boolean"},
	},
	Required:             []string{"veh_id", "tracked"},
	AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
})

func mustResolve(s *jsonschema.Schema) *jsonschema.Resolved {
	resolved, err := s.Resolve(nil)
	if err != nil {
		panic(err)
	}

	return resolved
}

// DecodeQuery validates and decodes a struct query payload as it arrived
// off the wire.
func DecodeQuery(payload map[string]any) (Query, error) {
	if err := querySchema.Validate(payload); err != nil {
		return Query{}, fmt.Errorf("struct query payload: %w", err)
	}

	vehID, ok := toInt(payload["veh_id"])
	if !ok {
		return Query{}, fmt.Errorf("struct query payload: veh_id is %T", payload["veh_id"])
	}

	tracked, ok := payload["tracked"].(bool)
	if !ok {
		return Query{}, fmt.Errorf("struct query payload: tracked is %T", payload["tracked"])
	}

	q := Query{VehID: vehID, Tracked: tracked}

	if rawKeys, ok := payload["keys"].([]any); ok {
		q.Keys = make([]string, 0, len(rawKeys))

		for _, k := range rawKeys {
			key, ok := k.(string)
			if !ok {
				return Query{}, fmt.Errorf("struct query payload: key is %T", k)
			}

			q.Keys = append(q.Keys, key)
		}
	}

	return q, nil
}

// Filter extracts the requested fields from a full struct record, checking
// every requested key against the kind's whitelist. A record whose report
// field is non-zero, or a request for an unlisted key, returns a
// StructInfoError; the dispatcher answers with ErrorRecord in that case.
func Filter(kind Kind, full map[string]any, keys []string) (map[string]any, error) {
	if report, ok := full["report"]; ok {
		if r, ok := toInt(report); ok && r != 0 {
			return nil, &errors.StructInfoError{Kind: string(kind)}
		}
	}

	valid := ValidKeys(kind)
	if len(keys) == 0 {
		keys = valid
	}

	out := make(map[string]any, len(keys))

	for _, key := range keys {
		if !slices.Contains(valid, key) {
			return nil, &errors.StructInfoError{Kind: string(kind), Key: key}
		}

		out[key] = full[key]
	}

	return out, nil
}

// ErrorRecord is the dictionary sent in place of a struct when the query
// failed. The command loop stays alive; the client surfaces a typed error.
func ErrorRecord() map[string]any {
	return map[string]any{"report": -1}
}

// IsErrorRecord reports whether a received dictionary is the error record.
func IsErrorRecord(d map[string]any) bool {
	report, ok := d["report"]
	if !ok {
		return false
	}

	r, ok := toInt(report)

	return ok && r != 0
}

// Decode checks a struct reply on the client side, converting the error
// record into a typed error.
func Decode(kind Kind, d map[string]any) (map[string]any, error) {
	if IsErrorRecord(d) {
		return nil, &errors.StructInfoError{Kind: string(kind)}
	}

	return d, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
