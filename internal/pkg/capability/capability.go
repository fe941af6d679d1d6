/*
Package capability implements the permission bits attached to every user account.

A user's capabilities are stored as a single integer in the durable user record. The
mapping from a capability to its bit index lives in an explicit, versioned table so the
order in which capabilities are declared never changes the stored encoding.
*/
package capability

import (
	"fmt"
	"strings"
)

// Capability names one protected operation family.
type Capability int

const (
	// UseEmergencyCall lets a field client (ambulance) create and drive a tour.
	UseEmergencyCall Capability = iota + 1

	// ViewEmergencyCall lets a dashboard list tours and observe them live.
	ViewEmergencyCall

	// TakeEmergencyCall lets a hospital client accept an incoming tour.
	TakeEmergencyCall

	// ManageEmergencyCall lets an operator manage other users' tours.
	ManageEmergencyCall

	// ManageUsers lets an operator administer registered users.
	ManageUsers

	// UsePrivateFeature gates features that are not public yet.
	UsePrivateFeature

	// CreateRegisterCode lets a user issue sign-up codes.
	CreateRegisterCode
)

// MappingVersion identifies the bit table below. Bump it when a bit is reassigned.
const MappingVersion = 1

// bitIndex is the storage encoding. Bit 0 is reserved and never granted.
var bitIndex = map[Capability]uint{
	UseEmergencyCall:    1,
	ViewEmergencyCall:   2,
	TakeEmergencyCall:   3,
	ManageEmergencyCall: 4,
	ManageUsers:         5,
	UsePrivateFeature:   6,
	CreateRegisterCode:  7,
}

// All lists every capability in enumeration order.
var All = []Capability{
	UseEmergencyCall,
	ViewEmergencyCall,
	TakeEmergencyCall,
	ManageEmergencyCall,
	ManageUsers,
	UsePrivateFeature,
	CreateRegisterCode,
}

var names = map[Capability]string{
	UseEmergencyCall:    "use_emergency_call",
	ViewEmergencyCall:   "view_emergency_call",
	TakeEmergencyCall:   "take_emergency_call",
	ManageEmergencyCall: "manage_emergency_call",
	ManageUsers:         "manage_users",
	UsePrivateFeature:   "use_private_feature",
	CreateRegisterCode:  "create_register_code",
}

// String returns the stable name of the capability.
func (c Capability) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return fmt.Sprintf("capability(%d)", int(c))
}

// Parse resolves a capability from its stable name (case-insensitive).
func Parse(name string) (Capability, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for c, n := range names {
		if n == needle {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q", name)
}

func (c Capability) mask() (int64, bool) {
	idx, ok := bitIndex[c]
	if !ok {
		return 0, false
	}
	return int64(1) << idx, true
}

// Set is a compact set of capabilities. The zero value is the empty set.
type Set struct {
	bits int64
}

// Decode builds a Set from its stored integer form. Bits that map to no known
// capability are kept so that Encode returns the same integer.
func Decode(bits int64) Set {
	return Set{bits: bits}
}

// Of builds a Set holding the given capabilities.
func Of(caps ...Capability) Set {
	var s Set
	for _, c := range caps {
		s.Add(c)
	}
	return s
}

// Encode returns the stored integer form of the set.
func (s Set) Encode() int64 {
	return s.bits
}

// Add grants c. Unknown capabilities are ignored.
func (s *Set) Add(c Capability) {
	if m, ok := c.mask(); ok {
		s.bits |= m
	}
}

// Remove revokes c. Unknown capabilities are ignored.
func (s *Set) Remove(c Capability) {
	if m, ok := c.mask(); ok {
		s.bits &^= m
	}
}

// Has reports whether c is granted.
func (s Set) Has(c Capability) bool {
	m, ok := c.mask()
	if !ok {
		return false
	}
	return s.bits&m != 0
}

// List returns the granted capabilities in enumeration order.
func (s Set) List() []Capability {
	granted := make([]Capability, 0, len(All))
	for _, c := range All {
		if s.Has(c) {
			granted = append(granted, c)
		}
	}
	return granted
}

// Names returns the stable names of the granted capabilities.
func (s Set) Names() []string {
	list := s.List()
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.String()
	}
	return out
}
