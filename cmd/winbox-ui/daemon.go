//go:build uifrontend

package main

import (
	"errors"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

func winboxDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".winbox")
}

func socketPath() string {
	return filepath.Join(winboxDir(), "winboxd.sock")
}

func pidFilePath() string {
	return filepath.Join(winboxDir(), "data", "winboxd.pid")
}

func isDaemonRunning() bool {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	// err == nil: process alive, we can signal it
	// EPERM: process alive but owned by another user
	return err == nil || errors.Is(err, syscall.EPERM)
}

// findWinboxdBinary locates the winboxd binary: ~/.winbox/bin/winboxd
// (installed), then next to this executable (dev mode).
func findWinboxdBinary() string {
	candidate := filepath.Join(winboxDir(), "bin", "winboxd")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}

	exe, _ := os.Executable()
	candidate = filepath.Join(filepath.Dir(exe), "winboxd")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}

	return ""
}

// ensureDaemon starts winboxd if it's not already running.
// Non-fatal: if the daemon can't be started, the UI shows the
// "winboxd not running" state and the user can start it manually.
func ensureDaemon() {
	if isDaemonRunning() {
		return
	}

	winboxdBin := findWinboxdBinary()
	if winboxdBin == "" {
		log.Println("winbox-ui: winboxd binary not found, UI will show disconnected state")
		return
	}

	startDaemon(winboxdBin)
}

func startDaemon(winboxdBin string) {
	logDir := filepath.Join(winboxDir(), "data")
	os.MkdirAll(logDir, 0700)
	logFile, err := os.OpenFile(filepath.Join(logDir, "winboxd.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("winbox-ui: create log file: %v", err)
		return
	}

	cmd := exec.Command(winboxdBin)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// Own process group so the daemon isn't killed when the desktop app exits.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		log.Printf("winbox-ui: start winboxd: %v", err)
		return
	}

	// Monitor for early exit
	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()

	// Wait for daemon to be ready
	time.Sleep(500 * time.Millisecond)
	for i := 0; i < 10; i++ {
		if isDaemonRunning() {
			log.Println("winbox-ui: winboxd started")
			return
		}
		select {
		case <-exited:
			log.Println("winbox-ui: winboxd exited immediately, check ~/.winbox/data/winboxd.log")
			return
		default:
		}
		time.Sleep(200 * time.Millisecond)
	}

	log.Println("winbox-ui: winboxd did not start within timeout")
}
