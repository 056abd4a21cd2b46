package eventbus

import (
	"fmt"
	"strconv"
	"strings"
)

// Wildcard stands in for an absent filter field in lookup keys.
const Wildcard = "*"

// keySeparator joins key components.
const keySeparator = ","

// Filter scopes a subscription. Zero values mean "any": a zero NetworkID
// matches every network, an empty Name every name, and so on.
//
// Filter is comparable; two filters are equal iff all fields are equal.
type Filter struct {
	NetworkID    int64  `json:"networkId,omitempty"`
	DeviceTypeID int64  `json:"deviceTypeId,omitempty"`
	DeviceID     string `json:"deviceId,omitempty"`
	EventName    string `json:"eventName,omitempty"`
	Name         string `json:"name,omitempty"`
}

// FirstKey returns "{network|*},{type|*},{device|*}".
func (f Filter) FirstKey() string {
	return firstKey(f.NetworkID, f.DeviceTypeID, f.DeviceID)
}

// DeviceIgnoredFirstKey is FirstKey with the device forced to the wildcard.
func (f Filter) DeviceIgnoredFirstKey() string {
	return firstKey(f.NetworkID, f.DeviceTypeID, "")
}

// SecondKey returns "{event|*},{name|*}".
func (f Filter) SecondKey() string {
	return orWildcard(f.EventName) + keySeparator + orWildcard(f.Name)
}

// Validate rejects values that would make keys ambiguous. A literal "*"
// is refused rather than silently treated as a wildcard.
func (f Filter) Validate() error {
	if f.NetworkID < 0 {
		return fmt.Errorf("%w: negative network id %d", ErrInvalidFilter, f.NetworkID)
	}
	if f.DeviceTypeID < 0 {
		return fmt.Errorf("%w: negative device type id %d", ErrInvalidFilter, f.DeviceTypeID)
	}
	fields := []struct{ name, value string }{
		{"deviceId", f.DeviceID},
		{"eventName", f.EventName},
		{"name", f.Name},
	}
	for _, fv := range fields {
		if fv.value == Wildcard {
			return fmt.Errorf("%w: %s cannot be the literal %q", ErrInvalidFilter, fv.name, Wildcard)
		}
		if strings.Contains(fv.value, keySeparator) {
			return fmt.Errorf("%w: %s cannot contain %q", ErrInvalidFilter, fv.name, keySeparator)
		}
	}
	return nil
}

// IsGlobal reports whether the filter matches every device.
func (f Filter) IsGlobal() bool {
	return f.NetworkID == 0 && f.DeviceTypeID == 0 && f.DeviceID == ""
}

func (f Filter) String() string {
	return f.FirstKey() + "/" + f.SecondKey()
}

func firstKey(networkID, deviceTypeID int64, deviceID string) string {
	return idOrWildcard(networkID) + keySeparator + idOrWildcard(deviceTypeID) + keySeparator + orWildcard(deviceID)
}

func idOrWildcard(id int64) string {
	if id == 0 {
		return Wildcard
	}
	return strconv.FormatInt(id, 10)
}

func orWildcard(s string) string {
	if s == "" {
		return Wildcard
	}
	return s
}

// ApplicableFilters expands a concrete event filter into every lookup
// filter that can hold a matching subscription.
//
// The event and name each take their own value or the wildcard, and the
// scope takes (network, type), (network, any), (any, type) and (any, any),
// always with the event's device. Running the three-tier lookup on each
// result covers network-only, type-only, device-only and name-agnostic
// subscriptions. Duplicates are removed.
func ApplicableFilters(event Filter) []Filter {
	type scope struct{ network, deviceType int64 }
	scopes := []scope{
		{event.NetworkID, event.DeviceTypeID},
		{event.NetworkID, 0},
		{0, event.DeviceTypeID},
		{0, 0},
	}
	events := []string{event.EventName, ""}
	names := []string{event.Name, ""}

	seen := make(map[Filter]struct{}, len(scopes)*len(events)*len(names))
	out := make([]Filter, 0, len(scopes)*len(events)*len(names))
	for _, ev := range events {
		for _, name := range names {
			for _, sc := range scopes {
				f := Filter{
					NetworkID:    sc.network,
					DeviceTypeID: sc.deviceType,
					DeviceID:     event.DeviceID,
					EventName:    ev,
					Name:         name,
				}
				if _, dup := seen[f]; dup {
					continue
				}
				seen[f] = struct{}{}
				out = append(out, f)
			}
		}
	}
	return out
}

// Matches reports whether a subscription with filter f would receive an
// event described by the concrete filter event. Zero fields of f match
// anything.
func (f Filter) Matches(event Filter) bool {
	switch {
	case f.NetworkID != 0 && f.NetworkID != event.NetworkID:
		return false
	case f.DeviceTypeID != 0 && f.DeviceTypeID != event.DeviceTypeID:
		return false
	case f.DeviceID != "" && f.DeviceID != event.DeviceID:
		return false
	case f.EventName != "" && f.EventName != event.EventName:
		return false
	case f.Name != "" && f.Name != event.Name:
		return false
	}
	return true
}
