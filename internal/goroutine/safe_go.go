package goroutine

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// RecoveryHandler запускает горутины с перехватом panic и учётом запущенных.
type RecoveryHandler struct {
	log logrus.FieldLogger
	wg  sync.WaitGroup
}

func NewRecoveryHandler(log logrus.FieldLogger) *RecoveryHandler {
	return &RecoveryHandler{log: log}
}

// SafeGo запускает горутину с обработкой panic
func (rh *RecoveryHandler) SafeGo(fn func()) {
	rh.wg.Add(1)
	go func() {
		defer rh.wg.Done()
		defer rh.recover()
		fn()
	}()
}

// SafeGoWithContext запускает горутину с контекстом и обработкой panic
func (rh *RecoveryHandler) SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	rh.wg.Add(1)
	go func() {
		defer rh.wg.Done()
		defer rh.recover()
		fn(ctx)
	}()
}

// Wait ждёт завершения всех запущенных горутин (graceful shutdown, тесты).
func (rh *RecoveryHandler) Wait() {
	rh.wg.Wait()
}

func (rh *RecoveryHandler) recover() {
	if r := recover(); r != nil {
		rh.log.WithFields(logrus.Fields{
			"panic": r,
			"stack": string(debug.Stack()),
		}).Error("Panic в горутине")
	}
}

// DefaultRecoveryHandler - глобальный обработчик на стандартном логгере logrus
var DefaultRecoveryHandler = NewRecoveryHandler(logrus.StandardLogger())

// SafeGo - упрощенная функция для запуска безопасной горутины
func SafeGo(fn func()) {
	DefaultRecoveryHandler.SafeGo(fn)
}

// SafeGoWithContext - упрощенная функция для запуска безопасной горутины с контекстом
func SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	DefaultRecoveryHandler.SafeGoWithContext(ctx, fn)
}
