package records

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrDuplicateRecord = errors.New("record with the same artist, album and format already exists")
	ErrInvalidInput    = errors.New("invalid input")
)

const (
	MaxQty          = 100
	maxTextLength   = 255
	priceDecimalCap = 2
)

var maxPrice = decimal.NewFromInt(10000)

// ValidationError names the offending field. It matches ErrInvalidInput under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type CreateInput struct {
	Artist     string
	Album      string
	Price      decimal.Decimal
	Qty        int
	Format     string
	Category   string
	ExternalID string
}

type createFields struct {
	artist     string
	album      string
	price      decimal.Decimal
	qty        int
	format     Format
	category   Category
	externalID ExternalID
}

func (in CreateInput) normalize() (createFields, error) {
	artist, err := normalizeText("artist", in.Artist)
	if err != nil {
		return createFields{}, err
	}
	album, err := normalizeText("album", in.Album)
	if err != nil {
		return createFields{}, err
	}
	if err := validatePrice(in.Price); err != nil {
		return createFields{}, err
	}
	if err := validateQty(in.Qty); err != nil {
		return createFields{}, err
	}
	format, err := ParseFormat(in.Format)
	if err != nil {
		return createFields{}, invalid("format", "%v", err)
	}
	category, err := ParseCategory(in.Category)
	if err != nil {
		return createFields{}, invalid("category", "%v", err)
	}
	var externalID ExternalID
	if strings.TrimSpace(in.ExternalID) != "" {
		externalID, err = ParseExternalID(in.ExternalID)
		if err != nil {
			return createFields{}, invalid("externalId", "%v", err)
		}
	}
	return createFields{
		artist:     artist,
		album:      album,
		price:      in.Price,
		qty:        in.Qty,
		format:     format,
		category:   category,
		externalID: externalID,
	}, nil
}

// UpdateInput carries a partial update. Nil fields are left unchanged. Omitting
// ExternalID never clears it; ClearExternalID does, together with the tracklist.
type UpdateInput struct {
	Artist          *string
	Album           *string
	Price           *decimal.Decimal
	Qty             *int
	Format          *string
	Category        *string
	ExternalID      *string
	ClearExternalID bool
}

func (in UpdateInput) normalize() (Changes, error) {
	var changes Changes
	if in.Artist != nil {
		artist, err := normalizeText("artist", *in.Artist)
		if err != nil {
			return Changes{}, err
		}
		changes.Artist = &artist
	}
	if in.Album != nil {
		album, err := normalizeText("album", *in.Album)
		if err != nil {
			return Changes{}, err
		}
		changes.Album = &album
	}
	if in.Price != nil {
		if err := validatePrice(*in.Price); err != nil {
			return Changes{}, err
		}
		price := *in.Price
		changes.Price = &price
	}
	if in.Qty != nil {
		if err := validateQty(*in.Qty); err != nil {
			return Changes{}, err
		}
		qty := *in.Qty
		changes.Qty = &qty
	}
	if in.Format != nil {
		format, err := ParseFormat(*in.Format)
		if err != nil {
			return Changes{}, invalid("format", "%v", err)
		}
		changes.Format = &format
	}
	if in.Category != nil {
		category, err := ParseCategory(*in.Category)
		if err != nil {
			return Changes{}, invalid("category", "%v", err)
		}
		changes.Category = &category
	}
	if in.ClearExternalID && in.ExternalID != nil {
		return Changes{}, invalid("externalId", "cannot set and clear the external id in the same update")
	}
	if in.ExternalID != nil {
		externalID, err := ParseExternalID(*in.ExternalID)
		if err != nil {
			return Changes{}, invalid("externalId", "%v", err)
		}
		changes.ExternalID = &externalID
	}
	return changes, nil
}

func normalizeText(field, raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", invalid(field, "must not be empty")
	}
	if len(value) > maxTextLength {
		return "", invalid(field, "must be at most %d characters", maxTextLength)
	}
	return value, nil
}

func validatePrice(price decimal.Decimal) error {
	if price.IsNegative() || price.GreaterThan(maxPrice) {
		return invalid("price", "must be between 0 and %s", maxPrice.String())
	}
	if !price.Equal(price.Round(priceDecimalCap)) {
		return invalid("price", "must have at most %d decimal places", priceDecimalCap)
	}
	return nil
}

func validateQty(qty int) error {
	if qty < 0 || qty > MaxQty {
		return invalid("qty", "must be between 0 and %d", MaxQty)
	}
	return nil
}
