// Package vigil implements a Discord community-management bot built around
// a configuration-driven auto-responder engine.
//
// Guild operators configure triggers in per-guild JSON documents. For each
// incoming message, the engine loads (and caches) the guild's configuration,
// evaluates trigger specs in longest-trigger-first order, and for the first
// spec that passes its filters, match mode, input limits and cooldown, it
// resolves a response - either from a registered handler or from the spec's
// static response - and delivers it to one or more targets (origin channel,
// reply, or direct message).
//
// Key components of the package include:
//
//   - Vigil: The main struct that wires configuration, database, Discord
//     gateway, admin API, and the responder engine together.
//   - AutoResponder: The per-message orchestrator, owning the cooldown
//     table and the per-guild config cache.
//   - HandlerRegistry: A typed registry of named responder implementations,
//     replacing dynamic module loading with explicit registration.
//   - responseDeliverer: Multi-target delivery with mention control, file
//     attachment resolution, and DM-to-channel fallback.
//   - Discord: The gateway session wrapper and event handler wiring.
//   - API: A small gin-based admin surface for inspecting triggers and
//     clearing caches/cooldowns.
//
// Nothing in the responder pipeline is permitted to propagate an error past
// the engine's entry point: misconfigured triggers degrade to "message not
// handled" rather than crashing the bot or blocking other messages.
package vigil
