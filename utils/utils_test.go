package utils

import (
	"errors"
	"testing"
	"time"
)

func TestFormatSymbol(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT":   "BTC-USDT",
		"BTC/USDT":  "BTC-USDT",
		"btc-usdt":  "BTC-USDT",
		"ETHUSDC":   "ETH-USDC",
		"XAUUSD":    "XAU-USD",
		" BTC-USDT": "BTC-USDT",
		"UNKNOWN":   "UNKNOWN",
	}
	for in, want := range cases {
		if got := FormatSymbol(in); got != want {
			t.Errorf("FormatSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(3, time.Millisecond, false, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	err := Retry(2, time.Millisecond, false, func() error {
		calls++
		return errors.New("down")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}
