package budget

// NewDefaultManager wires one daily tracker per endpoint class, derived
// from ratelimit.DefaultClassSettings' requests-per-minute figures: a full
// 24h at the nominal rate, reset at UTC midnight, warning at 80%.
func NewDefaultManager() *Manager {
	m := NewManager()
	for class, dailyLimit := range map[string]int64{
		"spot":    1200 * 60 * 24,
		"futures": 1800 * 60 * 24,
		"heavy":   600 * 60 * 24,
		"batch":   1000 * 60 * 24,
	} {
		m.AddProvider(class, dailyLimit, 0, 0.8)
	}
	return m
}
