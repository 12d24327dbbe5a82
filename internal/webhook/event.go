package webhook

import "fmt"

// Event is a member of the closed domain event taxonomy. Constructing one from
// a string goes through ParseEvent, so an invalid name is an error at
// construction time, never a silent no-match at delivery time.
type Event string

const (
	EventAlertCreated          Event = "alert.created"
	EventAlertBlockedSite      Event = "alert.blocked_site"
	EventAlertBlockedApp       Event = "alert.blocked_app"
	EventAlertScreenTimeLimit  Event = "alert.screen_time_limit"
	EventAlertTamperAttempt    Event = "alert.tamper_attempt"
	EventDeviceOnline          Event = "device.online"
	EventDeviceOffline         Event = "device.offline"
	EventSettingsChanged       Event = "settings.changed"
	EventSubscriptionActivated Event = "subscription.activated"
	EventSubscriptionChanged   Event = "subscription.changed"
	EventSubscriptionCanceled  Event = "subscription.canceled"
	EventTest                  Event = "test"
)

// EventInfo is one catalog entry of the taxonomy.
type EventInfo struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

var taxonomy = []EventInfo{
	{ID: string(EventAlertCreated), Description: "Triggered when any alert is created"},
	{ID: string(EventAlertBlockedSite), Description: "Triggered when a blocked website is accessed"},
	{ID: string(EventAlertBlockedApp), Description: "Triggered when a blocked app is launched"},
	{ID: string(EventAlertScreenTimeLimit), Description: "Triggered when a screen time limit is reached"},
	{ID: string(EventAlertTamperAttempt), Description: "Triggered when someone tries to disable the agent"},
	{ID: string(EventDeviceOnline), Description: "Triggered when a device comes online"},
	{ID: string(EventDeviceOffline), Description: "Triggered when a device goes offline"},
	{ID: string(EventSettingsChanged), Description: "Triggered when enforcement settings are changed"},
	{ID: string(EventSubscriptionActivated), Description: "Triggered when a billing subscription is activated"},
	{ID: string(EventSubscriptionChanged), Description: "Triggered when a billing subscription changes status or plan"},
	{ID: string(EventSubscriptionCanceled), Description: "Triggered when a billing subscription is canceled"},
	{ID: string(EventTest), Description: "Test event for verifying webhook configuration"},
}

var eventSet = func() map[Event]struct{} {
	set := make(map[Event]struct{}, len(taxonomy))
	for _, info := range taxonomy {
		set[Event(info.ID)] = struct{}{}
	}
	return set
}()

// Taxonomy returns the static event catalog.
func Taxonomy() []EventInfo {
	out := make([]EventInfo, len(taxonomy))
	copy(out, taxonomy)
	return out
}

// ParseEvent validates s against the taxonomy.
func ParseEvent(s string) (Event, error) {
	e := Event(s)
	if _, ok := eventSet[e]; !ok {
		return "", fmt.Errorf("unknown event %q", s)
	}
	return e, nil
}

// ParseEvents validates a non-empty event name list.
func ParseEvents(names []string) ([]Event, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one event is required")
	}
	events := make([]Event, 0, len(names))
	for _, name := range names {
		e, err := ParseEvent(name)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
