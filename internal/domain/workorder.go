package domain

import (
	"strings"
	"time"
)

// MaxServiceSlots is the number of free-text service references a work order carries.
const MaxServiceSlots = 5

// MaxTechnicians is the number of technician names a work order may list.
const MaxTechnicians = 3

const vehicleSitePrefix = "Z70-"

// vehiclePrefixExemptions are prefixes that already identify a site and must not be re-prefixed.
var vehiclePrefixExemptions = []string{vehicleSitePrefix, "BO-"}

// WorkOrder is the immutable source record describing a job performed on a vehicle.
// It is owned by the external work-order subsystem and read-only here. The business
// id may have been persisted as either a string or a number; repositories normalise
// it to a string.
type WorkOrder struct {
	ID            string
	VehicleID     string
	Technicians   []string
	Authorizer    string
	Location      string
	ServiceTitles []string
	Subtotal      int64
	Total         int64
	IssuedAt      time.Time
	CreatedAt     time.Time
}

// PrimaryTechnician returns the first listed technician, or an empty string.
func (w WorkOrder) PrimaryTechnician() string {
	for _, name := range w.Technicians {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// FormattedVehicleID applies the site-prefix display convention to the vehicle id.
func (w WorkOrder) FormattedVehicleID() string {
	return FormatVehicleID(w.VehicleID)
}

// FormatVehicleID prepends the site prefix unless the id already carries a site marker.
func FormatVehicleID(vehicleID string) string {
	trimmed := strings.TrimSpace(vehicleID)
	if trimmed == "" {
		return ""
	}
	upper := strings.ToUpper(trimmed)
	for _, prefix := range vehiclePrefixExemptions {
		if strings.HasPrefix(upper, prefix) {
			return trimmed
		}
	}
	return vehicleSitePrefix + trimmed
}
