package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/gaborage/go-retrieval/logger"
)

// PromiseBuilder starts asynchronous one-off retrievals decoded by a fixed decoder.
// Concurrent requests for the same location and configuration share one execution.
type PromiseBuilder[T any] struct {
	decoder   Decoder[T]
	transport Transport
	log       logger.Logger
	cfg       atomic.Pointer[Config]
	group     singleflight.Group
}

// NewPromiseBuilder creates a builder using the default configuration.
func NewPromiseBuilder[T any](decoder Decoder[T], transport Transport, log logger.Logger) *PromiseBuilder[T] {
	if decoder == nil {
		panic("retrieval: NewPromiseBuilder requires a decoder")
	}
	if log == nil {
		log = logger.Nop()
	}
	b := &PromiseBuilder[T]{decoder: decoder, transport: transport, log: log}
	cfg := DefaultConfig()
	b.cfg.Store(&cfg)
	return b
}

// WithConfiguration replaces the configuration used by subsequent requests.
// Unlike the Retrieval setters, invalid values reject the whole configuration.
func (b *PromiseBuilder[T]) WithConfiguration(cfg Config) error {
	var errs []error
	if cfg.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout))
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		errs = append(errs, errors.New("user agent must not be blank"))
	}
	if cfg.MaximumFollowedRedirects < 0 {
		errs = append(errs, fmt.Errorf("maximum followed redirects must not be negative, got %d", cfg.MaximumFollowedRedirects))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid retrieval configuration: %w", errors.Join(errs...))
	}
	b.cfg.Store(&cfg)
	return nil
}

// Configuration returns the configuration used for new requests.
func (b *PromiseBuilder[T]) Configuration() Config {
	return *b.cfg.Load()
}

// RequestByGet starts retrieving location in the background. The request is detached
// from ctx cancellation so shared executions are not aborted by a single caller;
// use Promise.Await with a context to stop waiting.
//
// Callers that join an in-flight request receive the very same decoded value. When T
// is a map, a slice or a pointer, treat it as read-only or copy it before mutating.
func (b *PromiseBuilder[T]) RequestByGet(ctx context.Context, location string) *Promise[T] {
	cfg := b.Configuration()
	key := fmt.Sprintf("%s|%d|%s|%s", cfg.Timeout, cfg.MaximumFollowedRedirects, cfg.UserAgent, location)
	detached := context.WithoutCancel(ctx)

	p := &Promise[T]{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		v, err, shared := b.group.Do(key, func() (any, error) {
			return b.execute(detached, cfg, location)
		})
		if shared {
			b.log.Debug().Str("url", location).Msg("Shared in-flight request")
		}
		if err != nil {
			p.err = err
			return
		}
		p.value, _ = v.(T)
	}()
	return p
}

func (b *PromiseBuilder[T]) execute(ctx context.Context, cfg Config, location string) (value T, err error) {
	var zero T
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("url", location).Interface("panic", r).Msg("Decoder panicked")
			value, err = zero, NewDecodeError(location, fmt.Errorf("decoder panic: %v", r))
		}
	}()

	r := New(b.transport, b.log, WithConfig(cfg))
	if !r.Get(ctx, location) {
		return zero, r.LastError()
	}
	outcome := r.Outcome()
	if !outcome.IsCompleteContent() {
		return zero, NewIncompleteContentError(location, outcome.Status)
	}
	value, err = b.decoder(outcome)
	if err != nil {
		if IsErrorType(err, DecodeFailure) {
			return zero, err
		}
		return zero, NewDecodeError(location, err)
	}
	return value, nil
}

// Promise is the pending result of an asynchronous retrieval.
type Promise[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done is closed once the result is available.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Await blocks until the result is available or ctx is done.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
