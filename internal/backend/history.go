package backend

import (
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/hivelink/internal/eventbus"
	"github.com/nerrad567/hivelink/internal/model"
)

// history keeps the most recent notifications and commands of each device
// for subscription snapshots and command updates. A size of zero keeps
// nothing.
type history struct {
	mu            sync.Mutex
	size          int
	notifications map[string][]model.DeviceNotification
	commands      map[string][]model.DeviceCommand
}

func newHistory(size int) *history {
	return &history{
		size:          max(size, 0),
		notifications: make(map[string][]model.DeviceNotification),
		commands:      make(map[string][]model.DeviceCommand),
	}
}

func (h *history) addNotification(n model.DeviceNotification) {
	if h.size == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifications[n.DeviceID] = appendBounded(h.notifications[n.DeviceID], n, h.size)
}

func (h *history) addCommand(c model.DeviceCommand) {
	if h.size == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands[c.DeviceID] = appendBounded(h.commands[c.DeviceID], c, h.size)
}

// command returns a stored command.
func (h *history) command(deviceID string, id int64) (model.DeviceCommand, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.commands[deviceID] {
		if c.ID == id {
			return c, true
		}
	}
	return model.DeviceCommand{}, false
}

// updateCommand applies fn to a stored command and returns the result.
func (h *history) updateCommand(deviceID string, id int64, fn func(*model.DeviceCommand)) (model.DeviceCommand, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cmds := h.commands[deviceID]
	for i := range cmds {
		if cmds[i].ID == id {
			fn(&cmds[i])
			return cmds[i], true
		}
	}
	return model.DeviceCommand{}, false
}

// matchingNotifications returns stored notifications at or after since
// that any of filters accepts, oldest first.
func (h *history) matchingNotifications(filters []eventbus.Filter, since time.Time) []model.DeviceNotification {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []model.DeviceNotification
	for _, deviceID := range h.devicesFor(filters, h.notificationDevices()) {
		for _, n := range h.notifications[deviceID] {
			if n.Timestamp.Before(since) {
				continue
			}
			if anyMatches(filters, n.Filter()) {
				out = append(out, n)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b model.DeviceNotification) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}

// matchingCommands is matchingNotifications for commands.
func (h *history) matchingCommands(filters []eventbus.Filter, since time.Time) []model.DeviceCommand {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []model.DeviceCommand
	for _, deviceID := range h.devicesFor(filters, h.commandDevices()) {
		for _, c := range h.commands[deviceID] {
			if c.Timestamp.Before(since) {
				continue
			}
			if anyMatches(filters, c.Filter()) {
				out = append(out, c)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b model.DeviceCommand) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}

// forget drops the history of deleted devices.
func (h *history) forget(deviceIDs ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range deviceIDs {
		delete(h.notifications, id)
		delete(h.commands, id)
	}
}

// devicesFor narrows the scan to the named devices when every filter
// names one. Caller holds h.mu.
func (h *history) devicesFor(filters []eventbus.Filter, all []string) []string {
	var named []string
	for _, f := range filters {
		if f.DeviceID == "" {
			slices.Sort(all)
			return all
		}
		named = append(named, f.DeviceID)
	}
	slices.Sort(named)
	return slices.Compact(named)
}

func (h *history) notificationDevices() []string {
	ids := make([]string, 0, len(h.notifications))
	for id := range h.notifications {
		ids = append(ids, id)
	}
	return ids
}

func (h *history) commandDevices() []string {
	ids := make([]string, 0, len(h.commands))
	for id := range h.commands {
		ids = append(ids, id)
	}
	return ids
}

func anyMatches(filters []eventbus.Filter, event eventbus.Filter) bool {
	for _, f := range filters {
		if f.Matches(event) {
			return true
		}
	}
	return false
}

func appendBounded[T any](s []T, v T, size int) []T {
	s = append(s, v)
	if over := len(s) - size; over > 0 {
		s = slices.Delete(s, 0, over)
	}
	return s
}
