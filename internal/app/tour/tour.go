/*
Package tour holds the active emergency transport ("tour") and its ephemeral store.

A tour is keyed by the user id of the ambulance that created it; there is at most one
active tour per user.
*/
package tour

import "fmt"

// Status is the lifecycle stage of a tour.
type Status string

const (
	StatusReady  Status = "READY"
	StatusRide   Status = "RIDE"
	StatusArrive Status = "ARRIVE"
)

var statusOrder = []Status{StatusReady, StatusRide, StatusArrive}

// ParseStatus validates a wire status.
func ParseStatus(s string) (Status, error) {
	for _, st := range statusOrder {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown tour status %q", s)
}

// Next returns the status that follows s, or false when s is final.
func (s Status) Next() (Status, bool) {
	for i, st := range statusOrder {
		if st == s && i+1 < len(statusOrder) {
			return statusOrder[i+1], true
		}
	}
	return "", false
}

// CanAdvanceTo reports whether next is exactly one step after s.
func (s Status) CanAdvanceTo(next Status) bool {
	n, ok := s.Next()
	return ok && n == next
}

// Hospital is the destination matched to the tour.
type Hospital struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Tour is the snapshot pushed to observers as UPDATE_DATA.
type Tour struct {
	PatientName     string    `json:"patient_name"`
	Symptom         string    `json:"symptom"`
	LicenseNumber   string    `json:"license_number"`
	Status          Status    `json:"status"`
	Hospital        *Hospital `json:"hospital"`
	RemainDistance  *int      `json:"remain_distance"`
	CurrentLocation *string   `json:"current_location"`

	// LocationX and LocationY are the pickup coordinates (longitude, latitude)
	// used for hospital search.
	LocationX string `json:"location_x"`
	LocationY string `json:"location_y"`
}

// New returns a READY tour with no hospital, distance or live location.
func New(patientName, symptom, licenseNumber, locationX, locationY string) *Tour {
	return &Tour{
		PatientName:   patientName,
		Symptom:       symptom,
		LicenseNumber: licenseNumber,
		Status:        StatusReady,
		LocationX:     locationX,
		LocationY:     locationY,
	}
}

// SetLocation records a position report. distance is optional.
func (t *Tour) SetLocation(location string, distance *int) {
	loc := location
	t.CurrentLocation = &loc
	if distance != nil {
		d := *distance
		t.RemainDistance = &d
	}
}

func (t *Tour) validate() error {
	if _, err := ParseStatus(string(t.Status)); err != nil {
		return err
	}
	if t.LicenseNumber == "" {
		return fmt.Errorf("tour has no license number")
	}
	return nil
}
