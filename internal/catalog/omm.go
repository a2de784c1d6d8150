package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/1valdis/heavensat-web/internal/orbit"
)

// OMM is one CCSDS Orbit Mean-elements Message in the JSON layout served by
// CelesTrak and Space-Track.
type OMM struct {
	ObjectName         string  `json:"OBJECT_NAME"`
	ObjectID           string  `json:"OBJECT_ID"`
	Epoch              string  `json:"EPOCH"`
	MeanMotion         float64 `json:"MEAN_MOTION"`
	Eccentricity       float64 `json:"ECCENTRICITY"`
	Inclination        float64 `json:"INCLINATION"`
	RAOfAscNode        float64 `json:"RA_OF_ASC_NODE"`
	ArgOfPericenter    float64 `json:"ARG_OF_PERICENTER"`
	MeanAnomaly        float64 `json:"MEAN_ANOMALY"`
	EphemerisType      int     `json:"EPHEMERIS_TYPE"`
	ClassificationType string  `json:"CLASSIFICATION_TYPE"`
	NoradCatID         int     `json:"NORAD_CAT_ID"`
	ElementSetNo       int     `json:"ELEMENT_SET_NO"`
	RevAtEpoch         int     `json:"REV_AT_EPOCH"`
	BStar              float64 `json:"BSTAR"`
	MeanMotionDot      float64 `json:"MEAN_MOTION_DOT"`
	MeanMotionDDot     float64 `json:"MEAN_MOTION_DDOT"`
}

// ParseOMM decodes a JSON array of OMM records and converts each into TLE
// lines. Records that cannot be expressed as a TLE are skipped with a
// warning.
func ParseOMM(r io.Reader, logger *slog.Logger) ([]Satellite, error) {
	var omms []OMM
	if err := json.NewDecoder(r).Decode(&omms); err != nil {
		return nil, errors.Wrap(err, "decoding OMM JSON")
	}

	sats := make([]Satellite, 0, len(omms))
	for i := range omms {
		s, err := omms[i].ToSatellite()
		if err != nil {
			logger.Warn("skipping OMM record", "name", omms[i].ObjectName, "norad_id", omms[i].NoradCatID, "error", err)
			continue
		}
		sats = append(sats, s)
	}
	return sats, nil
}

// ParseEpoch parses the ISO 8601 OMM epoch. A missing zone means UTC.
func (o *OMM) ParseEpoch() (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.ParseInLocation(layout, o.Epoch, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("invalid OMM epoch %q", o.Epoch)
}

// ToSatellite renders the record as a checksummed TLE line pair.
func (o *OMM) ToSatellite() (Satellite, error) {
	if o.NoradCatID <= 0 || o.NoradCatID > 99999 {
		return Satellite{}, errors.Errorf("catalog number %d does not fit a TLE", o.NoradCatID)
	}
	if o.Eccentricity < 0 || o.Eccentricity >= 1 {
		return Satellite{}, errors.Errorf("eccentricity %.10f out of [0,1)", o.Eccentricity)
	}
	if o.Inclination < 0 || o.Inclination > 180 {
		return Satellite{}, errors.Errorf("inclination %.4f out of [0,180]", o.Inclination)
	}
	if o.MeanMotion <= 0 || o.MeanMotion >= 100 {
		return Satellite{}, errors.Errorf("mean motion %.8f out of range", o.MeanMotion)
	}
	if math.Abs(o.MeanMotionDot) >= 1 {
		return Satellite{}, errors.Errorf("mean motion derivative %g out of range", o.MeanMotionDot)
	}

	epoch, err := o.ParseEpoch()
	if err != nil {
		return Satellite{}, err
	}
	intl, err := internationalDesignator(o.ObjectID)
	if err != nil {
		return Satellite{}, err
	}

	class := byte('U')
	if o.ClassificationType != "" {
		class = o.ClassificationType[0]
	}

	startOfYear := time.Date(epoch.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	day := 1 + epoch.Sub(startOfYear).Hours()/24

	line1 := fmt.Sprintf("1 %05d%c %-8s %02d%012.8f %s %s %s %d %4d",
		o.NoradCatID, class, intl,
		epoch.Year()%100, day,
		formatDecimal(o.MeanMotionDot),
		formatExponent(o.MeanMotionDDot),
		formatExponent(o.BStar),
		o.EphemerisType%10,
		o.ElementSetNo%10000,
	)
	line2 := fmt.Sprintf("2 %05d %8.4f %8.4f %07d %8.4f %8.4f %11.8f%5d",
		o.NoradCatID,
		o.Inclination,
		normalizeDeg(o.RAOfAscNode),
		int(math.Round(o.Eccentricity*1e7)),
		normalizeDeg(o.ArgOfPericenter),
		normalizeDeg(o.MeanAnomaly),
		o.MeanMotion,
		o.RevAtEpoch%100000,
	)
	if len(line1) != 68 || len(line2) != 68 {
		return Satellite{}, errors.Errorf("formatted TLE has wrong width (%d, %d)", len(line1), len(line2))
	}
	line1 += strconv.Itoa(orbit.Checksum(line1))
	line2 += strconv.Itoa(orbit.Checksum(line2))

	return Satellite{
		Name:    strings.TrimSpace(o.ObjectName),
		NoradID: strconv.Itoa(o.NoradCatID),
		Epoch:   epoch,
		Line1:   line1,
		Line2:   line2,
	}, nil
}

// internationalDesignator converts "1998-067A" to "98067A".
func internationalDesignator(objectID string) (string, error) {
	if objectID == "" {
		return "", nil
	}
	year, piece, ok := strings.Cut(objectID, "-")
	if !ok || len(year) < 2 || len(piece) < 4 || len(piece) > 6 {
		return "", errors.Errorf("invalid OBJECT_ID %q", objectID)
	}
	return year[len(year)-2:] + piece, nil
}

// formatDecimal renders |v| < 1 as the 10-column " .NNNNNNNN" field.
func formatDecimal(v float64) string {
	sign := " "
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatFloat(v, 'f', 8, 64)
	return sign + strings.TrimPrefix(s, "0")
}

// formatExponent renders v in the 8-column assumed-decimal form " NNNNN-E".
func formatExponent(v float64) string {
	if v == 0 {
		return " 00000-0"
	}
	sign := " "
	if v < 0 {
		sign = "-"
		v = -v
	}
	exp := int(math.Floor(math.Log10(v))) + 1
	mant := int(math.Round(v / math.Pow(10, float64(exp)) * 1e5))
	if mant >= 100000 {
		mant /= 10
		exp++
	}
	if exp < -9 {
		return " 00000-0"
	}
	if exp > 9 {
		exp, mant = 9, 99999
	}
	expSign := "-"
	if exp >= 0 {
		expSign = "+"
	} else {
		exp = -exp
	}
	return fmt.Sprintf("%s%05d%s%d", sign, mant, expSign, exp)
}

func normalizeDeg(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	// %8.4f would print 360.0000 for values just below 360.
	if d >= 359.99995 {
		d = 0
	}
	return d
}
