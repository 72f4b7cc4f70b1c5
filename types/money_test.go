package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"KES", KES(2500000), 2500000, "kes", "KSh 25,000.00"},
		{"UGX", UGX(150000), 150000, "ugx", "USh 150,000"},
		{"TZS", TZS(99), 99, "tzs", "TSh 0.99"},
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"Major", Major(1200, ""), 120000, "kes", "KSh 1,200.00"},
		{"Zero default", Zero(""), 0, "kes", "KSh 0.00"},
		{"Negative", KES(-123456789), -123456789, "kes", "KSh -1,234,567.89"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in       string
		currency string
		want     int64
		wantErr  bool
	}{
		{"25000", "kes", 2500000, false},
		{"25,000", "kes", 2500000, false},
		{"25,000.50", "", 2500050, false},
		{"KSh 1,200", "kes", 120000, false},
		{"ksh.300", "kes", 30000, false},
		{"12.500", "kes", 1250, false},
		{"150000", "ugx", 150000, false},
		{"12.345", "kes", 0, true},
		{"1.5", "ugx", 0, true},
		{"-5", "kes", 0, true},
		{"abc", "kes", 0, true},
		{"", "kes", 0, true},
		{"92233720368547758.07", "kes", 9223372036854775807, false},
		{"92233720368547758.08", "kes", 0, true},
		{"100000000000000000000", "kes", 0, true},
		{"1e20", "kes", 0, true},
		{"9223372036854775808", "ugx", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMoney(tt.in, tt.currency)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("expected ErrInvalidAmount, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Amount != tt.want {
				t.Errorf("got %d, want %d", got.Amount, tt.want)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		got      Money
		expected Money
	}{
		{"Add", KES(100).Add(KES(200)), KES(300)},
		{"Subtract", KES(500).Subtract(KES(200)), KES(300)},
		{"Multiply", KES(100).Multiply(3), KES(300)},
		{"ClampZero negative", KES(-100).ClampZero(), KES(0)},
		{"ClampZero positive", KES(100).ClampZero(), KES(100)},
		{"Sum", Sum("kes", KES(1), KES(2), KES(3)), KES(6)},
		{"Sum empty", Sum("kes"), KES(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.got.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for currency mismatch")
		}
	}()

	_ = KES(100).Add(USD(100))
}

func TestMoneyDecimal(t *testing.T) {
	if got := KES(2500050).Decimal().String(); got != "25000.5" {
		t.Errorf("got %s, want 25000.5", got)
	}
	if got := UGX(700).Decimal().String(); got != "700" {
		t.Errorf("got %s, want 700", got)
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(KES(2500000))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"amount":2500000,"currency":"kes","display":"KSh 25,000.00"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	var back Money
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(KES(2500000)) {
		t.Errorf("got %v", back)
	}

	if err := json.Unmarshal([]byte(`{"amount":5}`), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Currency != DefaultCurrency {
		t.Errorf("expected default currency, got %q", back.Currency)
	}
}
