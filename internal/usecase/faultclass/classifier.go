// Package faultclass сводит отказ платформы к категории и стратегии
// реакции. Чистое отображение: классификатор работает с типизированным
// domain.Fault и не выполняет никаких действий сам.
package faultclass

import (
	"strings"
	"time"

	"tg-relay-bot/internal/domain"
)

// Category — категория отказа.
type Category string

const (
	CategoryRateLimit     Category = "rate_limit"
	CategoryNetwork       Category = "network"
	CategoryAuth          Category = "auth"
	CategoryPermission    Category = "permission"
	CategoryPlatformError Category = "platform_error"
	CategoryClockSkew     Category = "clock_skew"
	CategoryUnknown       Category = "unknown"
)

// Strategy — предписанная реакция на отказ.
type Strategy string

const (
	StrategyRetry               Strategy = "retry"
	StrategyWaitThenRetry       Strategy = "wait_then_retry"
	StrategyRequireIntervention Strategy = "require_intervention"
	StrategyIgnore              Strategy = "ignore"
	StrategyFailFast            Strategy = "fail_fast"
)

// Decision — итог классификации отказа.
type Decision struct {
	Category          Category
	Strategy          Strategy
	Wait              time.Duration
	MaxRetries        int
	RequiresReconnect bool
}

// Фразы, по которым эвристически распознаётся рассинхронизация часов.
// Структурного кода для неё у платформы нет; лечится не повторной
// авторизацией, а исправлением системного времени оператором.
var clockSkewPhrases = []string{
	"time has to be synchronized",
	"msg_id is too low",
	"msg_id is too high",
	"clock skew",
	"bad server salt",
}

// Classify сводит отказ к решению {категория, стратегия, пауза, лимит}.
// Отказ с паузой платформы (flood) всегда несёт её явную длительность.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Category: CategoryUnknown, Strategy: StrategyIgnore}
	}

	fault, ok := domain.FaultFrom(err)
	if !ok {
		fault = &domain.Fault{Kind: domain.FaultUnknown, Message: err.Error()}
	}

	if isClockSkew(fault.Message) {
		return Decision{
			Category: CategoryClockSkew,
			Strategy: StrategyRequireIntervention,
		}
	}

	switch fault.Kind {
	case domain.FaultFlood:
		wait := fault.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		return Decision{
			Category:   CategoryRateLimit,
			Strategy:   StrategyWaitThenRetry,
			Wait:       wait,
			MaxRetries: 3,
		}
	case domain.FaultNetwork:
		return Decision{
			Category:          CategoryNetwork,
			Strategy:          StrategyRetry,
			Wait:              2 * time.Second,
			MaxRetries:        5,
			RequiresReconnect: true,
		}
	case domain.FaultAuth:
		return Decision{
			Category: CategoryAuth,
			Strategy: StrategyRequireIntervention,
		}
	case domain.FaultPermission, domain.FaultCapability:
		return Decision{
			Category: CategoryPermission,
			Strategy: StrategyFailFast,
		}
	case domain.FaultPlatform:
		return Decision{
			Category:   CategoryPlatformError,
			Strategy:   StrategyRetry,
			Wait:       5 * time.Second,
			MaxRetries: 2,
		}
	case domain.FaultBadRequest:
		return Decision{
			Category: CategoryPlatformError,
			Strategy: StrategyFailFast,
		}
	}

	return Decision{
		Category:   CategoryUnknown,
		Strategy:   StrategyRetry,
		Wait:       3 * time.Second,
		MaxRetries: 1,
	}
}

func isClockSkew(message string) bool {
	lowered := strings.ToLower(message)
	for _, phrase := range clockSkewPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
