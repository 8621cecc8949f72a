package budget

import "testing"

func TestPeriodSoftBreached(t *testing.T) {
	tests := []struct {
		name   string
		period Period
		want   bool
	}{
		{"well under soft threshold", Period{LimitUSD: 100, SoftPct: 0.8, SpentUSD: 10, ReservedUSD: 10}, false},
		{"exactly at soft threshold", Period{LimitUSD: 100, SoftPct: 0.8, SpentUSD: 50, ReservedUSD: 30}, true},
		{"past soft threshold", Period{LimitUSD: 100, SoftPct: 0.8, SpentUSD: 90, ReservedUSD: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.period.SoftBreached(); got != tt.want {
				t.Errorf("SoftBreached() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPeriodHardBreached(t *testing.T) {
	tests := []struct {
		name   string
		period Period
		want   bool
	}{
		{"under limit", Period{LimitUSD: 100, SpentUSD: 50, ReservedUSD: 40}, false},
		{"exactly at limit", Period{LimitUSD: 100, SpentUSD: 60, ReservedUSD: 40}, false},
		{"over limit", Period{LimitUSD: 100, SpentUSD: 80, ReservedUSD: 40}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.period.HardBreached(); got != tt.want {
				t.Errorf("HardBreached() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReservationExpired(t *testing.T) {
	r := Reservation{State: ReservationHeld, TTL: 0}
	// Any positive elapsed time with a zero TTL should count as expired.
	if !r.Expired(r.CreatedAt.Add(1)) {
		t.Error("expected a held reservation past its TTL to report expired")
	}

	committed := Reservation{State: ReservationCommitted, TTL: 0}
	if committed.Expired(committed.CreatedAt.Add(1)) {
		t.Error("a committed reservation should never report expired")
	}
}
