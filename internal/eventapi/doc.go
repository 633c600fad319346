// Package eventapi implements the JSON op-code envelope spoken by the upstream
// event service: {"op": <opcode>, "d": <payload>, "t": <unix ms>, "s": <sequence>}.
package eventapi
