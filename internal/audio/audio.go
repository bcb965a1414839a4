// Package audio extracts playback duration from mp3 preview files.
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/bogem/id3v2"
	"github.com/tcolgate/mp3"
)

// DefaultDuration is the display value used when a file's duration cannot
// be determined.
const DefaultDuration = "3:00"

var errNoTLEN = errors.New("no usable TLEN frame")

// DurationString returns the mp3's duration as "m:ss", falling back to
// DefaultDuration when the file is unreadable.
func DurationString(path string) string {
	d, err := Duration(path)
	if err != nil {
		return DefaultDuration
	}
	return FormatDuration(d)
}

// Duration determines the playback length of an mp3. It first trusts a TLEN
// (length in milliseconds) tag frame when one is present, then falls back to
// summing the MPEG frame durations.
func Duration(path string) (time.Duration, error) {
	if d, err := tagDuration(path); err == nil {
		return d, nil
	}
	return frameScanDuration(path)
}

// FormatDuration renders a duration as "m:ss". Minutes are not wrapped into
// hours; a 75-minute file renders as "75:00".
func FormatDuration(d time.Duration) string {
	total := int(d.Round(time.Second).Seconds())
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func tagDuration(path string) (time.Duration, error) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return 0, fmt.Errorf("failed to open id3 tag: %w", err)
	}
	defer tag.Close()

	text := tag.GetTextFrame("TLEN").Text
	if text == "" {
		return 0, errNoTLEN
	}
	ms, err := strconv.Atoi(text)
	if err != nil || ms <= 0 {
		return 0, errNoTLEN
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func frameScanDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open mp3: %w", err)
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var (
		frame   mp3.Frame
		skipped int
		total   time.Duration
	)
	for {
		if err := dec.Decode(&frame, &skipped); err != nil {
			if err == io.EOF || total > 0 {
				break
			}
			return 0, fmt.Errorf("failed to decode mp3 frames: %w", err)
		}
		total += frame.Duration()
	}

	if total == 0 {
		return 0, errors.New("no mpeg frames found")
	}
	return total, nil
}
