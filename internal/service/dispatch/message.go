package dispatch

import (
	"fmt"
	"strings"

	"github.com/oshokin/crashguard/internal/config"
	"github.com/oshokin/crashguard/internal/domain/alert"
)

const (
	headerCrash = "CRASH DETECTED!"
	headerSOS   = "SOS ALERT!"

	mapsLinkFormat = "https://maps.google.com/?q=%.5f,%.5f"
)

// Compose builds the SMS body for event.
// A missing or zero location is replaced by the identity's fallback coordinate.
func Compose(event *alert.Event, identity config.Identity) string {
	location := resolveLocation(event, identity)

	header := headerSOS
	if event != nil && event.Source == alert.SourceSensor {
		header = headerCrash
	}

	var b strings.Builder

	b.WriteString(header)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "Drvr: %s\n", identity.Driver)
	fmt.Fprintf(&b, "Ph: %s\n", identity.Phone)
	fmt.Fprintf(&b, "Veh: %s\n", identity.Vehicle)
	fmt.Fprintf(&b, "Loc: %s\n", location)
	fmt.Fprintf(&b, mapsLinkFormat, location.Latitude, location.Longitude)

	return b.String()
}

func resolveLocation(event *alert.Event, identity config.Identity) alert.Location {
	if event == nil || event.Location == nil || (event.Location.Latitude == 0 && event.Location.Longitude == 0) {
		return alert.Location{
			Latitude:  identity.FallbackLatitude,
			Longitude: identity.FallbackLongitude,
		}
	}

	return *event.Location
}
