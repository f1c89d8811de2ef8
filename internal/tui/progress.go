// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package tui renders a cross-platform, adaptive, colorful progress view
// driven by hfxet.ProgressSnapshot values.
package tui

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/bodaay/hfxet/pkg/hfxet"
)

// LiveRenderer renders one download/snapshot operation's progress as a
// single adaptive bar whose prefix shows the phase and the current file,
// built on cheggaaa/pb/v3.
type LiveRenderer struct {
	repo string

	mu       sync.Mutex
	bar      *pb.ProgressBar
	start    time.Time
	lastSnap hfxet.ProgressSnapshot
	started  bool

	noColor     bool
	interactive bool
}

// NewLiveRenderer creates a renderer for repo. Call Handler to obtain the
// ProgressFunc to pass to a DownloadFile/DownloadSnapshot call.
func NewLiveRenderer(repo string) *LiveRenderer {
	return &LiveRenderer{
		repo:        repo,
		start:       time.Now(),
		noColor:     os.Getenv("NO_COLOR") != "",
		interactive: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// Handler returns the hfxet.ProgressFunc to feed snapshots into the
// renderer.
func (lr *LiveRenderer) Handler() hfxet.ProgressFunc {
	return func(s hfxet.ProgressSnapshot) {
		lr.apply(s)
	}
}

func (lr *LiveRenderer) apply(s hfxet.ProgressSnapshot) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.lastSnap = s

	if !lr.started && s.TotalBytes > 0 {
		lr.started = true
		tmpl := fmt.Sprintf(`{{string . "prefix"}}{{ blue "%s" }} {{ bar . "[" "#" "#" "." "]" }} {{percent .}} {{speed . "%%s/s"}} ETA {{etime .}}`, sanitizeRepo(lr.repo))
		bar := pb.ProgressBarTemplate(tmpl).Start64(s.TotalBytes)
		if lr.noColor || !lr.interactive {
			bar.SetTemplate(pb.Simple)
		}
		lr.bar = bar
	}
	if lr.bar == nil {
		return
	}
	lr.bar.SetCurrent(s.CompletedBytes)
	lr.bar.Set("prefix", phaseLabel(s.Phase)+" "+ellipsizeMiddle(s.CurrentFile, 40)+" ")
}

func phaseLabel(p hfxet.ProgressPhase) string {
	switch p {
	case hfxet.PhaseScanning:
		return color.YellowString("scan")
	case hfxet.PhaseDownloading:
		return color.CyanString("down")
	case hfxet.PhaseFinalizing:
		return color.GreenString("done")
	default:
		return "?"
	}
}

// Close finishes the bar and prints a one-line summary.
func (lr *LiveRenderer) Close() {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if lr.bar != nil {
		lr.bar.Finish()
	}
	elapsed := time.Since(lr.start).Round(time.Second)
	fmt.Fprintf(os.Stdout, "%s: %d/%d files, %s in %s\n",
		lr.repo, lr.lastSnap.CompletedFiles, lr.lastSnap.TotalFiles,
		humanBytes(lr.lastSnap.CompletedBytes), elapsed)
}

func sanitizeRepo(s string) string {
	if len(s) > 30 {
		return s[:27] + "..."
	}
	return s
}

func ellipsizeMiddle(s string, w int) string {
	if len(s) <= w || w <= 3 {
		return s
	}
	half := (w - 3) / 2
	return s[:half] + "..." + s[len(s)-half:]
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for n/div >= unit && exp < 6 {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// ansiOkay reports whether the terminal is expected to support ANSI escape
// sequences.
func ansiOkay() bool {
	if strings.ToLower(os.Getenv("TERM")) == "dumb" {
		return false
	}
	return runtime.GOOS != "plan9"
}

// AnsiOkay exports ansiOkay.
func AnsiOkay() bool { return ansiOkay() }
