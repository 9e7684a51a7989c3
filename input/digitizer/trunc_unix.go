//go:build linux || darwin || freebsd

package digitizer

import "syscall"

const msgTrunc = syscall.MSG_TRUNC
