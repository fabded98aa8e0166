package main

import (
	"bytes"
	"flag"
	"reflect"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/gurre/segspeed/segment"
)

func TestRunRejectsInvalidInterval(t *testing.T) {
	for _, arg := range []string{"-3", "0", "NaN", "abc", "-Inf", "-0.5"} {
		t.Run(arg, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run([]string{arg}, &stdout, &stderr)
			if code != 1 {
				t.Errorf("expected exit status 1, got %d (stderr %q)", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), "invalid time interval") {
				t.Errorf("expected invalid interval error, got %q", stderr.String())
			}
			if stdout.Len() != 0 {
				t.Errorf("expected no readings, got %q", stdout.String())
			}
		})
	}
}

func TestRunPrintsOneTick(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-ticks", "1", "0.5"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit status 0, got %d (stderr %q)", code, stderr.String())
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	ids := segment.Seed().IDs()
	if len(lines) != len(ids) {
		t.Fatalf("expected %d lines, got %d: %q", len(ids), len(lines), stdout.String())
	}
	for i, line := range lines {
		var r segment.Reading
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Fatalf("line %d is not a reading: %v", i, err)
		}
		if r.SegmentID != ids[i] {
			t.Errorf("line %d: expected segment %s, got %s", i, ids[i], r.SegmentID)
		}
		if r.UTCTimestamp != "2020-01-01T09:00:00.500Z" {
			t.Errorf("line %d: expected timestamp advanced by 0.5s, got %s", i, r.UTCTimestamp)
		}
		if r.ID == "" {
			t.Errorf("line %d: missing id", i)
		}
	}
}

func TestRunArgumentErrors(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		code   int
		stderr string
	}{
		{name: "two intervals", args: []string{"1", "2"}, code: 1, stderr: "at most one argument"},
		{name: "interval then number", args: []string{"1", "-3"}, code: 1, stderr: "at most one argument"},
		{name: "negative ticks", args: []string{"-ticks", "-3"}, code: 1, stderr: "max ticks"},
		{name: "unknown flag", args: []string{"-nope"}, code: 2, stderr: "flag provided but not defined"},
		{name: "unknown format", args: []string{"-format", "xml", "-ticks", "1"}, code: 1, stderr: "format"},
		{name: "help", args: []string{"-h"}, code: 0, stderr: "Usage: segment-sim"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != tt.code {
				t.Errorf("expected exit status %d, got %d (stderr %q)", tt.code, code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tt.stderr) {
				t.Errorf("expected stderr to contain %q, got %q", tt.stderr, stderr.String())
			}
			if stdout.Len() != 0 {
				t.Errorf("expected no output, got %q", stdout.String())
			}
		})
	}
}

func TestSplitInterval(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("ticks", 0, "")
	fs.Bool("debug", false, "")

	tests := []struct {
		args     []string
		rest     []string
		interval string
		ok       bool
	}{
		{args: []string{"-3"}, rest: []string{}, interval: "-3", ok: true},
		{args: []string{"-debug", "-3"}, rest: []string{"-debug"}, interval: "-3", ok: true},
		{args: []string{"-ticks=2", "-0.5"}, rest: []string{"-ticks=2"}, interval: "-0.5", ok: true},
		{args: []string{"-ticks", "-3"}, rest: []string{"-ticks", "-3"}},
		{args: []string{"-ticks", "1", "0.5"}, rest: []string{"-ticks", "1", "0.5"}},
		{args: []string{"-nope"}, rest: []string{"-nope"}},
		{args: nil, rest: nil},
	}

	for _, tt := range tests {
		rest, interval, ok := splitInterval(fs, tt.args)
		if ok != tt.ok || interval != tt.interval {
			t.Errorf("%q: expected (%q, %v), got (%q, %v)", tt.args, tt.interval, tt.ok, interval, ok)
		}
		if len(rest) != len(tt.rest) || (len(rest) > 0 && !reflect.DeepEqual(rest, tt.rest)) {
			t.Errorf("%q: expected rest %q, got %q", tt.args, tt.rest, rest)
		}
	}
}
