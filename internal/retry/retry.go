// Пакет retry — ограниченный exponential backoff для одиночного
// удалённого вызова (rate limit, 5xx, сетевые ошибки).
//
// Это внутренний, мелкомасштабный retry: durable-счётчик попыток
// ингестии (ingest_retries) живёт в БД и инкрементируется снаружи,
// по одному разу на sweep.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config — параметры backoff.
type Config struct {
	// Attempts — общее количество попыток (включая первую)
	Attempts int
	// BaseDelay — пауза перед второй попыткой; удваивается после каждой
	BaseDelay time.Duration
	// MaxDelay — верхняя граница паузы
	MaxDelay time.Duration
}

// DefaultConfig — параметры по умолчанию: 4 попытки, 1s базовая пауза,
// потолок 16s.
func DefaultConfig() Config {
	return Config{
		Attempts:  4,
		BaseDelay: time.Second,
		MaxDelay:  16 * time.Second,
	}
}

// Do выполняет op с повторами по cfg. Последняя ошибка возвращается
// после исчерпания попыток. Отмена контекста прерывает ожидание.
func Do(ctx context.Context, cfg Config, op func() error) error {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	delay := cfg.BaseDelay

	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.Attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("попытки исчерпаны (%d): %w", cfg.Attempts, lastErr)
}

// DoResult — вариант Do для операций, возвращающих значение.
func DoResult[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var opErr error
		result, opErr = op()
		return opErr
	})
	return result, err
}
