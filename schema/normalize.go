package schema

import (
	"strings"
	"unicode"
)

// MaxImageBytes bounds a single uploaded photo.
const MaxImageBytes = 32 << 20

// NormalizeDestination validates and normalizes a destination.
// Kinds are lowercased; refs may contain letters, digits and '.', '_', '-', ':'.
func NormalizeDestination(dest Destination) (Destination, error) {
	kind := DestinationKind(strings.ToLower(strings.TrimSpace(string(dest.Kind))))
	if kind == "" {
		return Destination{}, ErrInvalidDestination
	}
	for _, r := range kind {
		if r == '_' || (r >= 'a' && r <= 'z') {
			continue
		}
		return Destination{}, ErrInvalidDestination
	}
	ref := strings.TrimSpace(dest.Ref)
	for _, r := range ref {
		if r == '.' || r == '_' || r == '-' || r == ':' {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return Destination{}, ErrInvalidDestination
	}
	return Destination{Kind: kind, Ref: ref}, nil
}

// ValidateImage ensures a photo carries data and sane dimensions.
func ValidateImage(img Image) error {
	if img.Empty() || len(img.Data) > MaxImageBytes {
		return ErrInvalidImage
	}
	if img.Width < 0 || img.Height < 0 {
		return ErrInvalidImage
	}
	return nil
}

// NormalizeSubject trims fields and defaults the kind to vehicle.
func NormalizeSubject(s Subject) (Subject, error) {
	s.Kind = SubjectKind(strings.ToLower(strings.TrimSpace(string(s.Kind))))
	if s.Kind == "" {
		s.Kind = SubjectVehicle
	}
	s.Make = strings.TrimSpace(s.Make)
	s.Model = strings.TrimSpace(s.Model)
	s.Generation = strings.TrimSpace(s.Generation)
	s.FirstName = strings.TrimSpace(s.FirstName)
	s.LastName = strings.TrimSpace(s.LastName)
	if s.Confidence < 0 || s.Confidence > 1 {
		return Subject{}, ErrInvalidSubject
	}
	if err := s.Validate(); err != nil {
		return Subject{}, err
	}
	return s, nil
}
