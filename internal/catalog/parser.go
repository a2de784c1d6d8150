package catalog

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Format identifies a catalog encoding.
type Format string

const (
	Format3LE Format = "3le"
	FormatOMM Format = "omm"
)

// DetectFormat guesses the encoding of raw catalog data: a JSON array is
// OMM, anything else is treated as 3LE text.
func DetectFormat(data []byte) Format {
	if t := bytes.TrimLeft(data, " \t\r\n\ufeff"); len(t) > 0 && t[0] == '[' {
		return FormatOMM
	}
	return Format3LE
}

// ParseAny decodes data in whichever format DetectFormat reports.
func ParseAny(data []byte, logger *slog.Logger) ([]Satellite, error) {
	if DetectFormat(data) == FormatOMM {
		return ParseOMM(bytes.NewReader(data), logger)
	}
	return Parse(bytes.NewReader(data), logger)
}

// Parse reads 3-line element sets (name, line 1, line 2) from r. A leading
// "0 " on the name line, as written by Space-Track, is removed. Malformed
// entries are skipped with a warning.
func Parse(r io.Reader, logger *slog.Logger) ([]Satellite, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading 3LE data")
	}

	var sats []Satellite
	for i := 0; i+2 < len(lines); {
		name, line1, line2 := lines[i], lines[i+1], lines[i+2]

		if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
			logger.Warn("skipping malformed 3LE entry", "line_index", i, "name", name)
			i++
			continue
		}
		if len(line1) < 32 {
			logger.Warn("skipping 3LE entry with short line1", "name", name)
			i += 3
			continue
		}

		noradID, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
		if err != nil {
			logger.Warn("skipping 3LE entry with invalid NORAD ID", "norad_str", line1[2:7], "name", name)
			i += 3
			continue
		}

		epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
		if err != nil {
			logger.Warn("skipping 3LE entry with invalid epoch", "name", name, "error", err)
			i += 3
			continue
		}

		sats = append(sats, Satellite{
			Name:    cleanName(name),
			NoradID: strconv.Itoa(noradID),
			Epoch:   epoch,
			Line1:   line1,
			Line2:   line2,
		})
		i += 3
	}

	return sats, nil
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0 ") {
		s = strings.TrimSpace(s[2:])
	}
	return s
}

// parseEpoch converts a TLE epoch in YYDDD.DDDDDDDD format. Years 57-99 map
// to the 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, errors.Errorf("epoch string too short: %q", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid epoch year %q", s[:2])
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid epoch day %q", s[2:])
	}

	// Day 1 is January 1st.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}

// Format3LEText renders sats back into 3LE text.
func Format3LEText(sats []Satellite) []byte {
	var b bytes.Buffer
	for _, s := range sats {
		b.WriteString(s.Name)
		b.WriteByte('\n')
		b.WriteString(s.Line1)
		b.WriteByte('\n')
		b.WriteString(s.Line2)
		b.WriteByte('\n')
	}
	return b.Bytes()
}
