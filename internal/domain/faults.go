package domain

import (
	"errors"
	"fmt"
	"time"
)

// FaultKind — грубая группа отказа на стороне адаптера платформы.
// Тонкую классификацию (стратегию реакции) выполняет классификатор.
type FaultKind string

const (
	// FaultFlood — платформа потребовала паузу перед повтором.
	FaultFlood FaultKind = "flood"
	// FaultNetwork — сетевая ошибка или таймаут транспорта.
	FaultNetwork FaultKind = "network"
	// FaultAuth — сессия недействительна, нужна повторная авторизация.
	FaultAuth FaultKind = "auth"
	// FaultPermission — не хватает прав на операцию или канал недоступен.
	FaultPermission FaultKind = "permission"
	// FaultCapability — источник запрещает пересылку/копирование контента.
	FaultCapability FaultKind = "capability"
	// FaultPlatform — внутренняя ошибка платформы.
	FaultPlatform FaultKind = "platform"
	// FaultBadRequest — операция отвергнута как некорректная.
	FaultBadRequest FaultKind = "bad_request"
	// FaultUnknown — не удалось отнести к известной группе.
	FaultUnknown FaultKind = "unknown"
)

// Fault — типизированный отказ платформы. Адаптеры переводят ошибки
// транспорта в Fault, ядро никогда не разбирает сырые ошибки клиента.
type Fault struct {
	Kind       FaultKind
	Code       int
	Message    string
	RetryAfter time.Duration
	Err        error
}

// Error реализует error.
func (f *Fault) Error() string {
	if f.Code != 0 {
		return fmt.Sprintf("platform fault %s (%d): %s", f.Kind, f.Code, f.Message)
	}
	return fmt.Sprintf("platform fault %s: %s", f.Kind, f.Message)
}

// Unwrap отдаёт исходную ошибку транспорта.
func (f *Fault) Unwrap() error { return f.Err }

// NewFault создаёт отказ без кода платформы.
func NewFault(kind FaultKind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

// FaultFrom извлекает *Fault из цепочки ошибок.
func FaultFrom(err error) (*Fault, bool) {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault, true
	}
	return nil, false
}

// IsFaultKind проверяет, принадлежит ли ошибка указанной группе отказов.
func IsFaultKind(err error, kind FaultKind) bool {
	fault, ok := FaultFrom(err)
	return ok && fault.Kind == kind
}
