package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"

	"image-vault/internal/database"
	"image-vault/internal/logging"
)

// ExifField names one of the EXIF tags the vault reads and writes.
type ExifField string

// The allow-listed EXIF fields.
const (
	FieldMake             ExifField = "make"
	FieldModel            ExifField = "model"
	FieldSoftware         ExifField = "software"
	FieldArtist           ExifField = "artist"
	FieldCopyright        ExifField = "copyright"
	FieldDescription      ExifField = "description"
	FieldDateTimeOriginal ExifField = "dateTimeOriginal"
	FieldISO              ExifField = "iso"
	FieldLatitude         ExifField = "latitude"
	FieldLongitude        ExifField = "longitude"
)

// ExifDateLayout is the EXIF timestamp format.
const ExifDateLayout = "2006:01:02 15:04:05"

const maxTagLength = 1024

var (
	// ErrNoExif is returned by ReadTags when the file carries no EXIF block.
	ErrNoExif = errors.New("no exif data")
	// ErrExifUnsupported is returned by WriteTags for formats it cannot rewrite.
	ErrExifUnsupported = errors.New("exif writing is only supported for JPEG")
	// ErrInvalidTag is returned for unknown fields and out-of-range values.
	ErrInvalidTag = errors.New("invalid exif tag")
)

type tagSpec struct {
	ifdPath  string
	identity *exifcommon.IfdIdentity
	name     string
}

// textTags are stored as ASCII in IFD0 or the Exif IFD.
var textTags = map[ExifField]tagSpec{
	FieldMake:             {"IFD", exifcommon.IfdStandardIfdIdentity, "Make"},
	FieldModel:            {"IFD", exifcommon.IfdStandardIfdIdentity, "Model"},
	FieldSoftware:         {"IFD", exifcommon.IfdStandardIfdIdentity, "Software"},
	FieldArtist:           {"IFD", exifcommon.IfdStandardIfdIdentity, "Artist"},
	FieldCopyright:        {"IFD", exifcommon.IfdStandardIfdIdentity, "Copyright"},
	FieldDescription:      {"IFD", exifcommon.IfdStandardIfdIdentity, "ImageDescription"},
	FieldDateTimeOriginal: {"IFD/Exif", exifcommon.IfdExifStandardIfdIdentity, "DateTimeOriginal"},
}

var isoTag = tagSpec{"IFD/Exif", exifcommon.IfdExifStandardIfdIdentity, "ISOSpeedRatings"}

const gpsIfdPath = "IFD/GPSInfo"

var (
	exifIfdMapping *exifcommon.IfdMapping
	exifTagIndex   = exif.NewTagIndex()
)

func init() {
	exifIfdMapping = exifcommon.NewIfdMapping()
	_ = exifcommon.LoadStandardIfds(exifIfdMapping)
}

// AllowedFields lists every field ReadTags reports and WriteTags accepts.
func AllowedFields() []ExifField {
	return []ExifField{
		FieldMake, FieldModel, FieldSoftware, FieldArtist, FieldCopyright,
		FieldDescription, FieldDateTimeOriginal, FieldISO, FieldLatitude, FieldLongitude,
	}
}

// IsAllowedField reports whether f is on the allow list.
func IsAllowedField(f ExifField) bool {
	if _, ok := textTags[f]; ok {
		return true
	}
	return f == FieldISO || f == FieldLatitude || f == FieldLongitude
}

// Tags holds allow-listed EXIF values as strings.
type Tags map[ExifField]string

func (t Tags) applyTo(md *database.Metadata) {
	set := func(dst **string, f ExifField) {
		if v, ok := t[f]; ok {
			v := v
			*dst = &v
		}
	}
	set(&md.Make, FieldMake)
	set(&md.Model, FieldModel)
	set(&md.Software, FieldSoftware)
	set(&md.Artist, FieldArtist)
	set(&md.Copyright, FieldCopyright)
	set(&md.Description, FieldDescription)
	set(&md.DateTimeOriginal, FieldDateTimeOriginal)

	if v, ok := t[FieldISO]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			md.ISO = &n
		}
	}
	if v, ok := t[FieldLatitude]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			md.Latitude = &f
		}
	}
	if v, ok := t[FieldLongitude]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			md.Longitude = &f
		}
	}
}

// recoverExif turns a panic inside the EXIF libraries into an error.
func recoverExif(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("exif: %v", r)
	}
}

// ReadTags returns the allow-listed tags present in the file at path.
func ReadTags(path string) (tags Tags, err error) {
	defer recoverExif(&err)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	rawExif, err := exif.SearchAndExtractExif(data)
	if err != nil {
		if errors.Is(err, exif.ErrNoExif) {
			return nil, ErrNoExif
		}
		return nil, fmt.Errorf("locate exif: %w", err)
	}

	entries, _, err := exif.GetFlatExifData(rawExif, &exif.ScanOptions{})
	if err != nil {
		return nil, fmt.Errorf("parse exif entries: %w", err)
	}

	byName := make(map[string]ExifField, len(textTags)+1)
	for field, spec := range textTags {
		byName[spec.name] = field
	}
	byName[isoTag.name] = FieldISO

	tags = make(Tags)
	for _, entry := range entries {
		if entry.IfdPath == exif.ThumbnailFqIfdPath {
			continue
		}
		field, ok := byName[entry.TagName]
		if !ok {
			continue
		}
		value := strings.TrimSpace(strings.Split(entry.FormattedFirst, "\x00")[0])
		if value == "" {
			continue
		}
		tags[field] = value
	}

	if _, index, err := exif.Collect(exifIfdMapping, exifTagIndex, rawExif); err == nil {
		if ifd, err := index.RootIfd.ChildWithIfdPath(exifcommon.IfdGpsInfoStandardIfdIdentity); err == nil {
			if gi, err := ifd.GpsInfo(); err == nil {
				lat, lng := gi.Latitude.Decimal(), gi.Longitude.Decimal()
				if !math.IsNaN(lat) && !math.IsNaN(lng) {
					tags[FieldLatitude] = strconv.FormatFloat(lat, 'f', 6, 64)
					tags[FieldLongitude] = strconv.FormatFloat(lng, 'f', 6, 64)
				}
			}
		}
	}

	return tags, nil
}

// ValidateTags checks a write request. A nil value clears the field and is
// always valid.
func ValidateTags(changes map[ExifField]*string) error {
	for field, value := range changes {
		if !IsAllowedField(field) {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidTag, field)
		}
		if value == nil {
			continue
		}
		v := strings.TrimSpace(*value)
		if len(v) > maxTagLength {
			return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidTag, field, maxTagLength)
		}

		switch field {
		case FieldISO:
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 || n > math.MaxUint16 {
				return fmt.Errorf("%w: iso must be an integer between 0 and %d", ErrInvalidTag, math.MaxUint16)
			}
		case FieldLatitude:
			if f, err := strconv.ParseFloat(v, 64); err != nil || f < -90 || f > 90 {
				return fmt.Errorf("%w: latitude must be within [-90, 90]", ErrInvalidTag)
			}
		case FieldLongitude:
			if f, err := strconv.ParseFloat(v, 64); err != nil || f < -180 || f > 180 {
				return fmt.Errorf("%w: longitude must be within [-180, 180]", ErrInvalidTag)
			}
		case FieldDateTimeOriginal:
			if _, err := time.Parse(ExifDateLayout, v); err != nil {
				return fmt.Errorf("%w: dateTimeOriginal must look like 2024:01:31 13:45:00", ErrInvalidTag)
			}
		}
	}
	return nil
}

// SupportsExifWrite reports whether WriteTags can rewrite files with ext.
func SupportsExifWrite(ext string) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}

// WriteTags rewrites the EXIF block of the JPEG at path in place. A nil value
// removes the tag. The file's bytes change, so callers must rehash it.
func WriteTags(path string, changes map[ExifField]*string) (err error) {
	if !SupportsExifWrite(filepath.Ext(path)) {
		return ErrExifUnsupported
	}
	if err := ValidateTags(changes); err != nil {
		return err
	}
	defer recoverExif(&err)

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	intfc, err := jpegstructure.NewJpegMediaParser().ParseBytes(data)
	if err != nil {
		return fmt.Errorf("%w: parse jpeg: %v", ErrCorruptImage, err)
	}
	sl, ok := intfc.(*jpegstructure.SegmentList)
	if !ok {
		return fmt.Errorf("%w: unexpected jpeg structure", ErrCorruptImage)
	}

	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		logging.Debug("No usable EXIF in %s (%v), starting a fresh block", filepath.Base(path), err)
		rootIb = exif.NewIfdBuilder(exifIfdMapping, exifTagIndex, exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder)
	}

	for field, value := range changes {
		if err := applyChange(rootIb, field, value); err != nil {
			return fmt.Errorf("set %s: %w", field, err)
		}
	}

	if err := sl.SetExif(rootIb); err != nil {
		return fmt.Errorf("embed exif: %w", err)
	}

	var buf bytes.Buffer
	if err := sl.Write(&buf); err != nil {
		return fmt.Errorf("serialize jpeg: %w", err)
	}

	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(buf.Bytes())
		return err
	})
}

func applyChange(rootIb *exif.IfdBuilder, field ExifField, value *string) error {
	switch field {
	case FieldISO:
		if value == nil {
			return deleteTag(rootIb, isoTag)
		}
		n, _ := strconv.Atoi(strings.TrimSpace(*value))
		return setTag(rootIb, isoTag, []uint16{uint16(n)})

	case FieldLatitude, FieldLongitude:
		refName, valName, pos, neg := "GPSLatitudeRef", "GPSLatitude", "N", "S"
		if field == FieldLongitude {
			refName, valName, pos, neg = "GPSLongitudeRef", "GPSLongitude", "E", "W"
		}
		refTag := tagSpec{gpsIfdPath, exifcommon.IfdGpsInfoStandardIfdIdentity, refName}
		valTag := tagSpec{gpsIfdPath, exifcommon.IfdGpsInfoStandardIfdIdentity, valName}

		if value == nil {
			if err := deleteTag(rootIb, refTag); err != nil {
				return err
			}
			return deleteTag(rootIb, valTag)
		}

		f, _ := strconv.ParseFloat(strings.TrimSpace(*value), 64)
		ref := pos
		if f < 0 {
			ref = neg
		}
		if err := setTag(rootIb, refTag, ref); err != nil {
			return err
		}
		return setTag(rootIb, valTag, degreesToRationals(math.Abs(f)))

	default:
		spec := textTags[field]
		if value == nil {
			return deleteTag(rootIb, spec)
		}
		return setTag(rootIb, spec, strings.TrimSpace(*value))
	}
}

func setTag(rootIb *exif.IfdBuilder, spec tagSpec, value any) error {
	ib, err := exif.GetOrCreateIbFromRootIb(rootIb, spec.ifdPath)
	if err != nil {
		return err
	}
	return ib.SetStandardWithName(spec.name, value)
}

func deleteTag(rootIb *exif.IfdBuilder, spec tagSpec) error {
	it, err := exifTagIndex.GetWithName(spec.identity, spec.name)
	if err != nil {
		return err
	}
	ib, err := exif.GetOrCreateIbFromRootIb(rootIb, spec.ifdPath)
	if err != nil {
		return err
	}
	_, err = ib.DeleteAll(it.Id)
	return err
}

// degreesToRationals encodes a non-negative decimal coordinate as EXIF
// degrees, minutes and seconds.
func degreesToRationals(v float64) []exifcommon.Rational {
	deg := math.Floor(v)
	minFloat := (v - deg) * 60
	minutes := math.Floor(minFloat)
	seconds := (minFloat - minutes) * 60

	return []exifcommon.Rational{
		{Numerator: uint32(deg), Denominator: 1},
		{Numerator: uint32(minutes), Denominator: 1},
		{Numerator: uint32(math.Round(seconds * 10000)), Denominator: 10000},
	}
}
