package stats

// directionTypeKey combines a direction label with a packet name so the
// per-(direction,type) maps below can use a single plain map instead of a
// nested one.
func directionTypeKey(direction, packetType string) string {
	return direction + ":" + packetType
}

// RecordForwarded increments the forwarded count for a direction+type pair.
func (s *Stats) RecordForwarded(direction, packetType string) {
	s.byDirectionMu.Lock()
	if s.byDirection == nil {
		s.byDirection = make(map[string]uint64)
	}
	s.byDirection[directionTypeKey(direction, packetType)]++
	s.byDirectionMu.Unlock()
}

// RecordCancelled increments the cancelled count for a direction+type pair,
// so a hook that suppresses forwarding shows up distinctly from one that
// lets traffic through.
func (s *Stats) RecordCancelled(direction, packetType string) {
	s.byDirectionMu.Lock()
	if s.cancelledByDirection == nil {
		s.cancelledByDirection = make(map[string]uint64)
	}
	s.cancelledByDirection[directionTypeKey(direction, packetType)]++
	s.byDirectionMu.Unlock()
}

// ForwardedCounts returns a copy of the forwarded-by-direction-and-type map.
func (s *Stats) ForwardedCounts() map[string]uint64 {
	s.byDirectionMu.RLock()
	defer s.byDirectionMu.RUnlock()
	out := make(map[string]uint64, len(s.byDirection))
	for k, v := range s.byDirection {
		out[k] = v
	}
	return out
}

// CancelledCounts returns a copy of the cancelled-by-direction-and-type map.
func (s *Stats) CancelledCounts() map[string]uint64 {
	s.byDirectionMu.RLock()
	defer s.byDirectionMu.RUnlock()
	out := make(map[string]uint64, len(s.cancelledByDirection))
	for k, v := range s.cancelledByDirection {
		out[k] = v
	}
	return out
}

// SetModulesLoaded records the current size of the module registry, for
// the admin introspection surface.
func (s *Stats) SetModulesLoaded(n int) { s.modulesLoaded.Store(int64(n)) }

// ModulesLoaded returns the last value SetModulesLoaded recorded.
func (s *Stats) ModulesLoaded() int64 { return s.modulesLoaded.Load() }

// SetHooksRegistered records the current number of registered hooks.
func (s *Stats) SetHooksRegistered(n int) { s.hooksRegistered.Store(int64(n)) }

// HooksRegistered returns the last value SetHooksRegistered recorded.
func (s *Stats) HooksRegistered() int64 { return s.hooksRegistered.Load() }

// SetCommandsRegistered records the current number of registered commands.
func (s *Stats) SetCommandsRegistered(n int) { s.commandsRegistered.Store(int64(n)) }

// CommandsRegistered returns the last value SetCommandsRegistered recorded.
func (s *Stats) CommandsRegistered() int64 { return s.commandsRegistered.Load() }
