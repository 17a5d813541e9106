package vigil

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handlerNamespace is the trusted top-level namespace for handler paths.
// Paths that don't carry it are prefixed with it; paths that resolve
// outside it are refused.
const handlerNamespace = "handlers"

// ResponderInput is the per-invocation request passed to a handler. It is
// created fresh per matching attempt and discarded after the handler call.
type ResponderInput struct {
	// Message is the triggering Discord message
	Message *discordgo.Message

	// Trigger is the matched trigger text
	Trigger string

	// Text is the extracted input text (after the trigger, trimmed)
	Text string

	// Args is Text split on whitespace
	Args []string

	// Raw is the original, unmodified message content
	Raw string

	// Settings is the trigger's fully merged settings snapshot
	Settings Settings
}

// Responder is a pluggable unit of logic that computes a dynamic response
// for matched input. Implementations may return any response value the
// delivery layer understands (string, rich map, list of either), or a map
// with "response"/"settings"/"targets" keys to override per-invocation
// delivery behavior. A nil response means "nothing to say", which falls
// through to the trigger's static response, if any.
type Responder interface {
	Run(ctx context.Context, input ResponderInput) (any, error)
}

// ResponderFunc adapts a plain function to the Responder interface.
type ResponderFunc func(ctx context.Context, input ResponderInput) (any, error)

// Run implements Responder.
func (f ResponderFunc) Run(ctx context.Context, input ResponderInput) (any, error) {
	return f(ctx, input)
}

// ResponderFactory builds a Responder bound to a trigger's settings,
// mirroring handler classes that are instantiated with their settings.
type ResponderFactory func(settings Settings) Responder

// HandlerRegistry maps canonical handler paths to statically registered
// factories. Registration replaces dynamic module loading: the set of
// available handlers is fixed at startup, but the config-driven path
// syntax (`module.attr` or `module:attr`) is preserved.
type HandlerRegistry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	factories map[string]ResponderFactory
	cache     map[string]ResponderFactory
}

// NewHandlerRegistry returns a registry pre-populated with the built-in
// responders.
func NewHandlerRegistry(logger *slog.Logger) *HandlerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &HandlerRegistry{
		logger:    logger.With(loggerNameKey, "handler_registry"),
		factories: map[string]ResponderFactory{},
		cache:     map[string]ResponderFactory{},
	}
	registerBuiltinResponders(r)
	return r
}

// Register adds a factory under the given handler path. The path is
// normalized the same way lookups are, so "basic:echo" and
// "handlers.basic:echo" name the same entry.
func (r *HandlerRegistry) Register(path string, factory ResponderFactory) error {
	canonical := normalizeHandlerPath(path)
	if canonical == "" {
		return fmt.Errorf("invalid handler path: %q", path)
	}
	if factory == nil {
		return fmt.Errorf("nil factory for handler path: %q", path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[canonical]; exists {
		return fmt.Errorf("handler already registered: %s", canonical)
	}
	r.factories[canonical] = factory
	return nil
}

// RegisterFunc registers a settings-independent responder function.
func (r *HandlerRegistry) RegisterFunc(path string, fn ResponderFunc) error {
	return r.Register(
		path, func(Settings) Responder {
			return fn
		},
	)
}

// Resolve returns the factory for a configured handler path, or nil if the
// path is malformed, escapes the trusted namespace, or names nothing.
// Successful resolutions are cached by canonical path; failures are not,
// so a handler registered later is picked up on the next message.
func (r *HandlerRegistry) Resolve(path string) ResponderFactory {
	canonical := normalizeHandlerPath(path)
	if canonical == "" {
		return nil
	}

	r.mu.RLock()
	factory, cached := r.cache[canonical]
	r.mu.RUnlock()
	if cached {
		return factory
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	factory, ok := r.factories[canonical]
	if !ok {
		return nil
	}
	r.cache[canonical] = factory
	return factory
}

// Paths returns the sorted canonical paths of all registered handlers.
func (r *HandlerRegistry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.factories))
	for path := range r.factories {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// ClearCache drops the resolution cache. Registered factories stay.
func (r *HandlerRegistry) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = map[string]ResponderFactory{}
}

// Invoke builds a responder from the factory and runs it, recovering from
// panics and converting any failure into a nil result. Handler errors are
// logged at warning level and never propagate.
func (r *HandlerRegistry) Invoke(
	ctx context.Context,
	path string,
	factory ResponderFactory,
	input ResponderInput,
) (result any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn(
				"handler panicked",
				"handler", path,
				"panic", fmt.Sprintf("%v", rec),
			)
			result = nil
		}
	}()

	responder := factory(input.Settings)
	if responder == nil {
		return nil
	}
	value, err := responder.Run(ctx, input)
	if err != nil {
		r.logger.Warn("handler failed", "handler", path, tint.Err(err))
		return nil
	}
	return value
}

// normalizeHandlerPath converts `module.attr` or `module:attr` into the
// canonical `handlers.module:attr` form. Paths without a separator, or
// with empty module/attr parts, normalize to "".
func normalizeHandlerPath(path string) string {
	raw := strings.TrimSpace(path)
	if raw == "" {
		return ""
	}

	var module, attr string
	if idx := strings.Index(raw, ":"); idx >= 0 {
		module = strings.TrimSpace(raw[:idx])
		attr = strings.TrimSpace(raw[idx+1:])
	} else if idx := strings.LastIndex(raw, "."); idx >= 0 {
		module = strings.TrimSpace(raw[:idx])
		attr = strings.TrimSpace(raw[idx:][1:])
	} else {
		return ""
	}

	if module == "" || attr == "" {
		return ""
	}
	if strings.Contains(attr, ":") {
		return ""
	}
	if module != handlerNamespace &&
		!strings.HasPrefix(module, handlerNamespace+".") {
		module = handlerNamespace + "." + module
	}
	return module + ":" + attr
}

// unwrapHandlerResult splits a handler result into the response value and
// any per-invocation setting overrides. A map containing any of
// "response", "settings" or "targets" is treated as an override envelope;
// anything else is the response itself.
func unwrapHandlerResult(result any) (any, Settings) {
	envelope, ok := result.(map[string]any)
	if !ok {
		return result, Settings{}
	}
	_, hasResponse := envelope["response"]
	_, hasSettings := envelope["settings"]
	_, hasTargets := envelope["targets"]
	if !hasResponse && !hasSettings && !hasTargets {
		return result, Settings{}
	}

	overrides := Settings{}
	if settings, isMap := envelope["settings"].(map[string]any); isMap {
		overrides = mergeSettings(overrides, settings)
	}
	switch targets := envelope["targets"].(type) {
	case []any, []string, string:
		overrides["response_targets"] = targets
	}
	return envelope["response"], overrides
}

// registerBuiltinResponders installs the stock handler set under the
// `handlers.basic` module.
func registerBuiltinResponders(r *HandlerRegistry) {
	// echo repeats the extracted input text (or the raw content when the
	// trigger consumed everything).
	_ = r.RegisterFunc(
		"basic:echo", func(_ context.Context, input ResponderInput) (any, error) {
			if input.Text != "" {
				return input.Text, nil
			}
			return input.Raw, nil
		},
	)

	// upper shouts the input back.
	_ = r.RegisterFunc(
		"basic:upper", func(_ context.Context, input ResponderInput) (any, error) {
			text := input.Text
			if text == "" {
				text = input.Raw
			}
			return strings.ToUpper(text), nil
		},
	)

	// static replies with the trigger's configured "text" setting.
	_ = r.Register(
		"basic:static", func(settings Settings) Responder {
			return ResponderFunc(
				func(context.Context, ResponderInput) (any, error) {
					return settings.String("text"), nil
				},
			)
		},
	)
}
