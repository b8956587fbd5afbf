package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{Attempts: 4, BaseDelay: time.Millisecond}, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("ожидался успех, получена ошибка: %v", err)
	}
	if calls != 1 {
		t.Errorf("ожидался 1 вызов, получено %d", calls)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{Attempts: 4, BaseDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errors.New("временная ошибка")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ожидался успех после повторов, получена ошибка: %v", err)
	}
	if calls != 3 {
		t.Errorf("ожидалось 3 вызова, получено %d", calls)
	}
}

func TestDo_Exhausted(t *testing.T) {
	sentinel := errors.New("постоянная ошибка")
	calls := 0
	err := Do(context.Background(), Config{Attempts: 4, BaseDelay: time.Millisecond}, func() error {
		calls++
		return sentinel
	})
	if err == nil {
		t.Fatal("ожидалась ошибка после исчерпания попыток")
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("ожидалась обёртка последней ошибки, получено: %v", err)
	}
	if calls != 4 {
		t.Errorf("ожидалось 4 вызова, получено %d", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Config{Attempts: 4, BaseDelay: time.Hour}, func() error {
		calls++
		cancel()
		return errors.New("ошибка")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидался context.Canceled, получено: %v", err)
	}
	if calls != 1 {
		t.Errorf("ожидался 1 вызов, получено %d", calls)
	}
}

func TestDo_ZeroAttempts(t *testing.T) {
	// Attempts < 1 трактуется как одна попытка
	calls := 0
	err := Do(context.Background(), Config{Attempts: 0}, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("ожидался успех, получена ошибка: %v", err)
	}
	if calls != 1 {
		t.Errorf("ожидался 1 вызов, получено %d", calls)
	}
}

func TestDoResult(t *testing.T) {
	calls := 0
	got, err := DoResult(context.Background(), Config{Attempts: 3, BaseDelay: time.Millisecond}, func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("временная ошибка")
		}
		return "значение", nil
	})
	if err != nil {
		t.Fatalf("ожидался успех, получена ошибка: %v", err)
	}
	if got != "значение" {
		t.Errorf("ожидалось 'значение', получено %q", got)
	}
}
