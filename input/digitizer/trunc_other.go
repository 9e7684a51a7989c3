//go:build !linux && !darwin && !freebsd

package digitizer

const msgTrunc = 0
