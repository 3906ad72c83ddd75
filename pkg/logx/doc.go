// Package logx is rtpulse's structured logging: a thin Logger over zerolog
// whose sinks (console, JSON file, systemd journal) can be swapped at runtime
// by Service.Apply when the config reloads.
//
// Nothing here is called on the RT thread except through Throttled, which
// rate limits before any formatting happens.
package logx
