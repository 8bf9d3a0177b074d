package main

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/zsiec/asfdemux/internal/asftest"
)

func TestSelectDuration(t *testing.T) {
	tests := []struct {
		name      string
		override  float64
		headerDur float64
		want      float64
	}{
		{"override takes precedence", 30.0, 25.0, 30.0},
		{"header used when no override", 0, 25.0, 25.0},
		{"default 60s when both zero", 0, 0, 60.0},
		{"negative override ignored", -1, 25.0, 25.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectDuration(tt.override, tt.headerDur)
			if got != tt.want {
				t.Errorf("selectDuration(%v, %v) = %v, want %v", tt.override, tt.headerDur, got, tt.want)
			}
		})
	}
}

func TestHeaderDuration(t *testing.T) {
	if got := headerDuration(asftest.Build(asftest.AV(4000))); got != 4.0 {
		t.Errorf("headerDuration = %v, want 4", got)
	}
	if got := headerDuration([]byte("not asf")); got != 0 {
		t.Errorf("headerDuration of garbage = %v", got)
	}
}

func TestPacedReader(t *testing.T) {
	clock := time.Unix(0, 0)
	var slept time.Duration
	p := newPacedReader(bytes.NewReader(make([]byte, 300)), 100)
	p.now = func() time.Time { return clock }
	p.sleep = func(d time.Duration) {
		slept += d
		clock = clock.Add(d)
	}

	buf := make([]byte, 100)
	for {
		if _, err := p.Read(buf); err == io.EOF {
			break
		}
	}
	// 300 bytes at 100 B/s: the reads at 100 and 200 bytes wait until 1s
	// and 2s, and the final EOF read waits until 3s.
	if slept != 3*time.Second {
		t.Errorf("slept %v, want 3s", slept)
	}
}
