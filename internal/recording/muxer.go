package recording

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	muxerQuitGrace = 2 * time.Second
	muxerTermGrace = 2 * time.Second
)

// buildMuxerArgs assembles the full argument list for the external muxer:
// robust probing flags, one SDP input per tap (audio inputs first, then
// video), a mix/stack filter graph, and the encode settings for the chosen
// container.
func buildMuxerArgs(audioInputs, videoInputs []string, hasVideo bool, outputPath string) []string {
	args := []string{
		"-y",
		"-protocol_whitelist", "file,udp,rtp",
		"-analyzeduration", "10M",
		"-probesize", "10M",
		"-fflags", "+genpts+discardcorrupt",
	}
	for _, in := range audioInputs {
		args = append(args, "-i", in)
	}
	if hasVideo {
		for _, in := range videoInputs {
			args = append(args, "-i", in)
		}
	}

	filter := buildFilterGraph(len(audioInputs), len(videoInputs), hasVideo)
	args = append(args, "-filter_complex", filter, "-map", "[aout]")
	if hasVideo && len(videoInputs) > 0 {
		args = append(args, "-map", "[vout]", "-c:v", "libx264", "-preset", "fast", "-crf", "23")
	}

	if hasVideo {
		args = append(args, "-c:a", "aac", "-b:a", "192k")
	} else {
		args = append(args, "-c:a", "libmp3lame", "-b:a", "192k")
	}
	return append(args, outputPath)
}

// buildFilterGraph mixes all audio inputs into [aout] and, when video is
// present, stacks up to two video inputs side by side into [vout]. Audio
// inputs occupy indices 0..A-1, video inputs A..A+V-1.
func buildFilterGraph(audioCount, videoCount int, hasVideo bool) string {
	var parts []string

	switch {
	case audioCount > 1:
		labels := ""
		for i := 0; i < audioCount; i++ {
			labels += fmt.Sprintf("[%d:a]", i)
		}
		parts = append(parts, fmt.Sprintf("%samix=inputs=%d:duration=longest[aout]", labels, audioCount))
	default:
		parts = append(parts, "[0:a]acopy[aout]")
	}

	if hasVideo && videoCount > 0 {
		base := audioCount
		if videoCount >= 2 {
			parts = append(parts, fmt.Sprintf("[%d:v][%d:v]hstack=inputs=2[vout]", base, base+1))
		} else {
			parts = append(parts, fmt.Sprintf("[%d:v]copy[vout]", base))
		}
	}
	return joinFilter(parts)
}

func joinFilter(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ";"
		}
		out += p
	}
	return out
}

// Muxer supervises the external container-writing process: stdin piped for
// the graceful quit command, stderr drained into the log, and an escalating
// stop sequence (quit command, SIGTERM, SIGKILL) that never leaks the child
// on any exit path.
type Muxer struct {
	log   *slog.Logger
	cmd   *exec.Cmd
	stdin io.WriteCloser

	waitOnce sync.Once
	waitCh   chan error
}

func startMuxer(log *slog.Logger, binary string, args []string) (*Muxer, error) {
	cmd := exec.Command(binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("muxer stdin: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("muxer stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("muxer spawn: %w", err)
	}

	m := &Muxer{log: log, cmd: cmd, stdin: stdin, waitCh: make(chan error, 1)}
	go m.drainStderr(stderr)
	go func() { m.waitCh <- cmd.Wait() }()
	return m, nil
}

func (m *Muxer) drainStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m.log.Debug("muxer", slog.String("line", sc.Text()))
	}
}

// Alive reports whether the process has not yet exited.
func (m *Muxer) Alive() bool {
	select {
	case err := <-m.waitCh:
		// Put the result back for Stop.
		m.waitCh <- err
		return false
	default:
		return true
	}
}

// Stop shuts the muxer down: write the quit command for a clean flush, then
// SIGTERM, then SIGKILL, each after its grace period.
func (m *Muxer) Stop() {
	m.waitOnce.Do(func() {
		if _, err := io.WriteString(m.stdin, "q"); err == nil {
			if m.awaitExit(muxerQuitGrace) {
				return
			}
		}
		_ = m.cmd.Process.Signal(syscall.SIGTERM)
		if m.awaitExit(muxerTermGrace) {
			return
		}
		m.log.Warn("muxer ignored SIGTERM, killing")
		_ = m.cmd.Process.Kill()
		m.awaitExit(time.Second)
	})
	_ = m.stdin.Close()
}

func (m *Muxer) awaitExit(d time.Duration) bool {
	select {
	case err := <-m.waitCh:
		if err != nil {
			m.log.Debug("muxer exited", slog.Any("error", err))
		}
		return true
	case <-time.After(d):
		return false
	}
}
