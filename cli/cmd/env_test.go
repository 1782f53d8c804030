package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestEnv_LoggerSink(t *testing.T) {
	tests := []struct {
		name       string
		live       bool
		wantStderr bool
		wantFile   bool
	}{
		{"line output logs to stderr", false, true, false},
		{"live view logs to file", true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "ecsu")
			var stderr bytes.Buffer
			e := &env{path: filepath.Join(dir, "config.yaml"), profile: "work", level: zapcore.InfoLevel, stderr: &stderr}

			logger, closeLog := e.logger("glacier", tt.live)
			logger.Debug("below level", nil)
			logger.Info("upload session initiated", map[string]any{"parts": 3})
			closeLog()

			if got := strings.Contains(stderr.String(), "upload session initiated"); got != tt.wantStderr {
				t.Errorf("stderr has entry = %v, want %v (stderr %q)", got, tt.wantStderr, stderr.String())
			}
			data, err := os.ReadFile(filepath.Join(dir, logFileName))
			if gotFile := err == nil; gotFile != tt.wantFile {
				t.Fatalf("log file exists = %v, want %v", gotFile, tt.wantFile)
			}
			logged := stderr.String() + string(data)
			if !strings.Contains(logged, `"profile":"work"`) || !strings.Contains(logged, `"transfer_method":"glacier"`) {
				t.Errorf("context fields missing: %q", logged)
			}
			if strings.Contains(logged, "below level") {
				t.Errorf("debug entry written at info level: %q", logged)
			}
		})
	}
}

func TestEnv_LoggerSinkAppends(t *testing.T) {
	dir := t.TempDir()
	e := &env{path: filepath.Join(dir, "config.yaml"), level: zapcore.InfoLevel, stderr: &bytes.Buffer{}}
	for _, msg := range []string{"first transfer", "second transfer"} {
		logger, closeLog := e.logger("s3", true)
		logger.Info(msg, nil)
		closeLog()
	}
	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Errorf("log has %d lines, want 2: %q", lines, data)
	}
}
