// Package orbit wraps the SGP4 propagator and derives the mean orbital
// elements the satellite filter works on.
package orbit

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// ElementSet is a parsed, SGP4-initialized orbital element set. Immutable
// after Parse; safe to share between goroutines.
type ElementSet struct {
	NoradID string
	Epoch   time.Time

	sat satellite.Satellite

	inclination  float64 // rad
	eccentricity float64
	meanMotion   float64 // Brouwer mean motion at epoch, rad/min
	meanMotionDt float64 // ṅ, rad/min per day
}

// Inclination returns the epoch inclination in radians.
func (es *ElementSet) Inclination() float64 { return es.inclination }

// Eccentricity returns the epoch eccentricity.
func (es *ElementSet) Eccentricity() float64 { return es.eccentricity }

// Parse validates a TLE line pair and initializes the SGP4 model for it.
//
// Every fixed-width field go-satellite reads is checked here first: the
// library calls log.Fatal on malformed input, which would take the whole
// process down with it.
func Parse(line1, line2 string) (*ElementSet, error) {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if err := validateLines(line1, line2); err != nil {
		return nil, err
	}

	es := &ElementSet{NoradID: strings.TrimLeft(strings.TrimSpace(line1[2:7]), "0")}
	if es.NoradID == "" {
		es.NoradID = "0"
	}

	yy, err := atoi(line1[18:20], "epoch year")
	if err != nil {
		return nil, err
	}
	epochDay, err := parseFloat(line1[20:32], "epoch day")
	if err != nil {
		return nil, err
	}
	es.Epoch = epochTime(yy, epochDay)

	ndot, err := parseFloat(line1[33:43], "mean motion derivative")
	if err != nil {
		return nil, err
	}
	if _, err := parseExp(line1[44:52], "mean motion second derivative"); err != nil {
		return nil, err
	}
	if _, err := parseExp(line1[53:61], "bstar"); err != nil {
		return nil, err
	}

	inclDeg, err := parseFloat(line2[8:16], "inclination")
	if err != nil {
		return nil, err
	}
	if _, err := parseFloat(line2[17:25], "right ascension"); err != nil {
		return nil, err
	}
	ecc, err := parseFloat("."+line2[26:33], "eccentricity")
	if err != nil {
		return nil, err
	}
	if _, err := parseFloat(line2[34:42], "argument of perigee"); err != nil {
		return nil, err
	}
	if _, err := parseFloat(line2[43:51], "mean anomaly"); err != nil {
		return nil, err
	}
	revPerDay, err := parseFloat(line2[52:63], "mean motion")
	if err != nil {
		return nil, err
	}
	if revPerDay <= 0 {
		return nil, fmt.Errorf("mean motion %.8f rev/day must be positive", revPerDay)
	}

	es.inclination = inclDeg * degToRad
	es.eccentricity = ecc
	es.meanMotion = brouwerMeanMotion(revPerDay*revPerDayToRadPerMin, es.inclination, ecc)
	// The TLE field holds ṅ/2 in rev/day².
	es.meanMotionDt = 2 * ndot * revPerDayToRadPerMin

	es.sat = satellite.TLEToSat(line1, line2, satellite.GravityWGS84)
	if es.sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %s: code=%d %s", es.NoradID, es.sat.Error, es.sat.ErrorStr)
	}
	return es, nil
}

func validateLines(line1, line2 string) error {
	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	n1, err := atoi(line1[2:7], "catalog number")
	if err != nil {
		return err
	}
	n2, err := atoi(line2[2:7], "catalog number")
	if err != nil {
		return err
	}
	if n1 != n2 {
		return fmt.Errorf("catalog number mismatch: line1 %d, line2 %d", n1, n2)
	}
	return nil
}

// Checksum computes the modulo-10 TLE checksum of the first 68 columns:
// digits count their value, minus signs count one.
func Checksum(line string) int {
	sum := 0
	for i := 0; i < len(line) && i < 68; i++ {
		switch c := line[i]; {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// VerifyChecksum reports whether the last column of line matches Checksum.
func VerifyChecksum(line string) bool {
	if len(line) != 69 {
		return false
	}
	return int(line[68]-'0') == Checksum(line)
}

func epochTime(yy int, day float64) time.Time {
	year := 2000 + yy
	if yy >= 57 {
		year = 1900 + yy
	}
	whole := int(day)
	frac := day - float64(whole)
	base := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, whole-1)
	return base.Add(time.Duration(math.Round(frac * 86400e9)))
}

func atoi(field, name string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(field))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, field, err)
	}
	return v, nil
}

func parseFloat(field, name string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, field, err)
	}
	return v, nil
}

// parseExp decodes the assumed-decimal exponent notation (" 12345-3").
func parseExp(field, name string) (float64, error) {
	f := strings.TrimSpace(field)
	if len(f) < 3 {
		return 0, fmt.Errorf("invalid %s %q", name, field)
	}
	mant, err := strconv.ParseFloat(strings.TrimSpace(f[:len(f)-2]), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s mantissa %q: %w", name, field, err)
	}
	exp, err := strconv.Atoi(f[len(f)-2:])
	if err != nil {
		return 0, fmt.Errorf("invalid %s exponent %q: %w", name, field, err)
	}
	return mant * 1e-5 * math.Pow(10, float64(exp)), nil
}
