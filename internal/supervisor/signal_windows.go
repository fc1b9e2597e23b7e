//go:build windows

package supervisor

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/windows"
)

func notifyShutdown() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch
}

func stopNotify(ch chan os.Signal) {
	signal.Stop(ch)
}

// forwardSignal mirrors the Unix path with the console control events a
// Windows child process expects in place of SIGTERM: CTRL_BREAK_EVENT to
// request graceful shutdown, falling back to CTRL_CLOSE_EVENT.
func forwardSignal(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(cmd.Process.Pid)); err != nil {
		windows.GenerateConsoleCtrlEvent(windows.CTRL_CLOSE_EVENT, uint32(cmd.Process.Pid))
	}
}
