package money

import "testing"

func TestNairaIsMinorUnits(t *testing.T) {
	m := Naira(5000)
	if m.AmountMinor != 500000 {
		t.Fatalf("AmountMinor = %d, want 500000 kobo", m.AmountMinor)
	}
	if m.Currency != NGN {
		t.Fatalf("Currency = %s, want NGN", m.Currency)
	}
	if m.ToMajor() != 5000 {
		t.Fatalf("ToMajor = %f, want 5000", m.ToMajor())
	}
}

func TestNewFromMajorRounds(t *testing.T) {
	// Gateway amounts arrive as floats; 4999.995 naira must not lose a kobo.
	m := NewFromMajor(4999.995, NGN)
	if m.AmountMinor != 500000 {
		t.Fatalf("AmountMinor = %d, want 500000", m.AmountMinor)
	}
}

func TestAddRejectsCurrencyMismatch(t *testing.T) {
	_, err := Naira(100).Add(New(100, USD))
	if err == nil {
		t.Fatal("adding NGN to USD must fail")
	}
}

func TestWithinEpsilon(t *testing.T) {
	base := Naira(5000)

	cases := []struct {
		name    string
		other   Money
		epsilon int64
		want    bool
	}{
		{"identical", Naira(5000), 100, true},
		{"one kobo apart", New(500001, NGN), 100, true},
		{"just inside", New(500100, NGN), 100, true},
		{"just outside", New(500101, NGN), 100, false},
		{"below within", New(499950, NGN), 100, true},
		{"different currency", New(500000, USD), 100, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := base.WithinEpsilon(tc.other, tc.epsilon); got != tc.want {
				t.Fatalf("WithinEpsilon(%v, %d) = %v, want %v", tc.other, tc.epsilon, got, tc.want)
			}
		})
	}
}

func TestCompareOrdersAmounts(t *testing.T) {
	if !Naira(100).LessThan(Naira(200)) {
		t.Fatal("100 < 200")
	}
	if !Naira(200).GreaterThan(Naira(100)) {
		t.Fatal("200 > 100")
	}
	if !Naira(100).Equal(Naira(100)) {
		t.Fatal("100 == 100")
	}
}
