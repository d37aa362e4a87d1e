package actorutil

import (
	"errors"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/primetalk/goio/io"
)

// SafeBackgroundTask runs blocking IO outside the actor and delivers the
// result, or the recovered error, as a message.
type SafeBackgroundTask[T any] struct {
	ctx       actor.Context
	fn        func() (*T, error)
	timeout   *time.Duration
	onError   func(error)
	recover   func(error) T
	onSuccess func(T)
}

func NewBackgroundTask[T any](ctx actor.Context, fn func() (*T, error)) *SafeBackgroundTask[T] {
	return &SafeBackgroundTask[T]{
		ctx: ctx,
		fn:  fn,
	}
}

func (t *SafeBackgroundTask[T]) WithTimeout(timeout time.Duration) *SafeBackgroundTask[T] {
	t.timeout = &timeout
	return t
}

func (t *SafeBackgroundTask[T]) OnError(fn func(error)) *SafeBackgroundTask[T] {
	t.onError = fn
	return t
}

func (t *SafeBackgroundTask[T]) Recover(fn func(error) T) *SafeBackgroundTask[T] {
	t.recover = fn
	return t
}

func (t *SafeBackgroundTask[T]) OnSuccess(fn func(T)) *SafeBackgroundTask[T] {
	t.onSuccess = fn
	return t
}

// PipeTo runs the task on its own goroutine and sends the result to pid.
func (t *SafeBackgroundTask[T]) PipeTo(pid *actor.PID) {
	system := t.ctx.ActorSystem()
	t.onSuccess = func(value T) {
		system.Root.Send(pid, value)
	}
	go t.Run()
}

func (t *SafeBackgroundTask[T]) Run() {
	bgFn := io.Eval(t.fn)
	bg := io.Map(bgFn, func(a *T) T {
		if a != nil {
			return *a
		}
		panic(errors.New("result is nil"))
	})
	if t.timeout != nil {
		bg = io.WithTimeout[T](*t.timeout)(bg)
	}
	result := io.RunSync(bg)
	value := result.Value
	if result.Error != nil {
		switch {
		case t.recover != nil:
			value = t.recover(result.Error)
		case t.onError != nil:
			t.onError(result.Error)
			return
		default:
			return
		}
	}
	if t.onSuccess != nil {
		t.onSuccess(value)
	}
}

func MapBackgroundTask[T, T2 any](bgt *SafeBackgroundTask[T], mapFn func(*T) *T2) *SafeBackgroundTask[T2] {
	newFn := func() (*T2, error) {
		r, err := bgt.fn()
		if err != nil {
			return nil, err
		}
		return mapFn(r), nil
	}
	return &SafeBackgroundTask[T2]{
		ctx: bgt.ctx,
		fn:  newFn,
	}
}
