package logger

import "os"

// FromEnv создает логгер, применяя LOG_LEVEL и LOG_DISABLE_COLOR поверх
// уровня и цвета по умолчанию. Неизвестный LOG_LEVEL оставляет уровень INFO.
func FromEnv(prefix string) *Logger {
	level := INFO
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if parsed, err := ParseLevel(v); err == nil {
			level = parsed
		}
	}

	l := New(level, os.Stdout, prefix)
	if os.Getenv("LOG_DISABLE_COLOR") == "1" {
		l.useColors = false
	}
	return l
}

// PacketFilter решает, какие имена пакетов допускаются к подробному
// отладочному логированию в пампе. Управляется PROXY_DEBUG и
// PROXY_DEBUG_TYPES: без PROXY_DEBUG=1 фильтр отключён целиком; пустой
// PROXY_DEBUG_TYPES означает "все типы".
type PacketFilter struct {
	enabled bool
	types   map[string]struct{}
}

// NewPacketFilter строит фильтр из явных значений, в обход окружения.
func NewPacketFilter(enabled bool, types []string) *PacketFilter {
	f := &PacketFilter{enabled: enabled}
	if len(types) > 0 {
		f.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			f.types[t] = struct{}{}
		}
	}
	return f
}

// PacketFilterFromEnv builds a PacketFilter from PROXY_DEBUG and
// PROXY_DEBUG_TYPES.
func PacketFilterFromEnv() *PacketFilter {
	enabled := os.Getenv("PROXY_DEBUG") == "1"
	var types []string
	if v := os.Getenv("PROXY_DEBUG_TYPES"); v != "" {
		start := 0
		for i := 0; i <= len(v); i++ {
			if i == len(v) || v[i] == ',' {
				if i > start {
					types = append(types, v[start:i])
				}
				start = i + 1
			}
		}
	}
	return NewPacketFilter(enabled, types)
}

// Allows reports whether packetName should be debug-logged.
func (f *PacketFilter) Allows(packetName string) bool {
	if f == nil || !f.enabled {
		return false
	}
	if f.types == nil {
		return true
	}
	_, ok := f.types[packetName]
	return ok
}
